package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError lists required secrets that were not configured.
type ValidationError struct {
	Empty []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required settings are not configured: %s", strings.Join(e.Empty, ", "))
}

// ValidateRequired checks that every value in secrets is non-blank.
// The names of blank entries are reported in sorted order.
func ValidateRequired(secrets map[string]string) error {
	var empty []string
	for key, value := range secrets {
		if strings.TrimSpace(value) == "" {
			empty = append(empty, key)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	sort.Strings(empty)
	return &ValidationError{Empty: empty}
}
