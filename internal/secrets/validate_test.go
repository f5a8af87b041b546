package secrets

import (
	"errors"
	"testing"
)

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name      string
		secrets   map[string]string
		wantEmpty []string
	}{
		{
			name: "all secrets present",
			secrets: map[string]string{
				"JWT_SECRET_KEY":    "abc123",
				"ANTHROPIC_API_KEY": "sk-ant-123",
			},
		},
		{
			name: "blank values reported sorted",
			secrets: map[string]string{
				"SECRET_KEY":        " ",
				"JWT_SECRET_KEY":    "",
				"ANTHROPIC_API_KEY": "sk-ant-123",
			},
			wantEmpty: []string{"JWT_SECRET_KEY", "SECRET_KEY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequired(tt.secrets)
			if tt.wantEmpty == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if len(verr.Empty) != len(tt.wantEmpty) {
				t.Fatalf("got %v, want %v", verr.Empty, tt.wantEmpty)
			}
			for i := range tt.wantEmpty {
				if verr.Empty[i] != tt.wantEmpty[i] {
					t.Fatalf("got %v, want %v", verr.Empty, tt.wantEmpty)
				}
			}
		})
	}
}
