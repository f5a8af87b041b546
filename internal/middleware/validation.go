package middleware

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/A1anMc/GrantSGE/internal/apierr"
)

// MaxRequestBodySize is the maximum size of request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ValidateRequestBody limits body size on writes and requires a JSON
// content type when a body is present.
func ValidateRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength > MaxRequestBodySize {
				apierr.WriteErrorWithContext(w, r, apierr.New(apierr.ErrValidationInvalidFormat,
					"Request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			if r.ContentLength != 0 && !isJSON(r.Header.Get("Content-Type")) {
				apierr.WriteErrorWithContext(w, r, apierr.New(apierr.ErrValidationInvalidFormat,
					"Content-Type must be application/json", http.StatusUnsupportedMediaType))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

// SanitizeInput provides input sanitization utilities.
type SanitizeInput struct{}

// SanitizeString trims whitespace, drops invalid UTF-8 and truncates to at
// most maxLength bytes without splitting a rune.
func (s *SanitizeInput) SanitizeString(input string, maxLength int) string {
	input = strings.ToValidUTF8(strings.TrimSpace(input), "")
	if len(input) <= maxLength {
		return input
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(input[cut]) {
		cut--
	}
	return strings.TrimSpace(input[:cut])
}

// ParseID parses a positive numeric path identifier.
func (s *SanitizeInput) ParseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("id cannot be empty")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id must be numeric")
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return id, nil
}
