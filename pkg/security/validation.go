package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxHumanInputBytes bounds a single human reply
const MaxHumanInputBytes = 16 * 1024

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateSessionID rejects identifiers that are unsafe as file names or keys
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// SanitizeString removes null bytes and control characters except newline, tab and carriage return
func SanitizeString(input string) string {
	var cleaned strings.Builder
	cleaned.Grow(len(input))
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' || r == '\r' {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}

// CleanHumanInput sanitizes a human reply and checks it is usable
func CleanHumanInput(input string) (string, error) {
	if !utf8.ValidString(input) {
		return "", fmt.Errorf("input is not valid UTF-8")
	}
	if len(input) > MaxHumanInputBytes {
		return "", fmt.Errorf("input of %d bytes exceeds maximum %d", len(input), MaxHumanInputBytes)
	}
	cleaned := strings.TrimSpace(SanitizeString(input))
	if cleaned == "" {
		return "", fmt.Errorf("input is empty")
	}
	return cleaned, nil
}
