package security

import (
	"log"
	"regexp"
	"strings"
)

// ErrorCode is a stable error code for API responses
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"
)

// SecureError is an error safe to return to clients
type SecureError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Error implements the error interface
func (e *SecureError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// SanitizeError logs err server-side and returns a client-safe error. With
// debug set the scrubbed error text is included as detail.
func SanitizeError(err error, code ErrorCode, message string, debug bool) *SecureError {
	if err == nil {
		return nil
	}

	log.Printf("[security] %s: %v", code, RedactSecrets(err.Error()))

	se := &SecureError{Code: code, Message: message}
	if debug {
		se.Detail = scrub(err.Error())
	}
	return se
}

var (
	secretPattern   = regexp.MustCompile(`(sk-|xai-|AIza|Bearer |api_key=|token=)[A-Za-z0-9_\-\.]{6,}`)
	filePathPattern = regexp.MustCompile(`(/[A-Za-z0-9_\-\.]+){2,}`)
	fileLinePattern = regexp.MustCompile(`\S+\.go:\d+`)
)

// RedactSecrets replaces things that look like API keys or bearer tokens
func RedactSecrets(msg string) string {
	return secretPattern.ReplaceAllString(msg, "$1[REDACTED]")
}

func scrub(msg string) string {
	msg = RedactSecrets(msg)
	msg = fileLinePattern.ReplaceAllString(msg, "[FILE:LINE]")
	msg = filePathPattern.ReplaceAllString(msg, "[PATH]")
	return strings.TrimSpace(msg)
}

// MaskSecret masks a secret for logging purposes
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
