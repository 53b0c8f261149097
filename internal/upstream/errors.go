package upstream

import "fmt"

// Validation error codes.
const (
	ErrCodeInvalidFormat    = "INVALID_FORMAT"
	ErrCodeMissingClaims    = "MISSING_CLAIMS"
	ErrCodeInvalidAudience  = "INVALID_AUDIENCE"
	ErrCodeTokenExpired     = "TOKEN_EXPIRED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// ValidationError reports why a token was rejected.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(code, message string, err error) *ValidationError {
	return &ValidationError{Code: code, Message: message, Err: err}
}
