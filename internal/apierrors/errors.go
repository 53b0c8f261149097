package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error carried across component boundaries. Only the
// HTTP and JSON-RPC envelope layers turn it into a wire response.
type Error struct {
	Kind        Kind
	Code        string
	Description string
	Details     any
	// Status overrides the HTTP status derived from Kind when non-zero.
	Status int
	// RetryAfter is set for rate-limit errors, in seconds.
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the status code the error maps to.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns the error with details attached.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, code, description string) *Error {
	return &Error{Kind: kind, Code: code, Description: description}
}

func Validation(code, description string) *Error {
	return New(KindValidation, code, description)
}

func Authentication(code, description string) *Error {
	return New(KindAuthentication, code, description)
}

func Authorization(code, description string) *Error {
	return New(KindAuthorization, code, description)
}

func Upstream(code, description string, cause error) *Error {
	return New(KindUpstream, code, description).WithCause(cause)
}

func NotFound(description string) *Error {
	return New(KindNotFound, CodeNotFound, description)
}

func Internal(cause error) *Error {
	return New(KindInternal, CodeInternal, "An internal error occurred").WithCause(cause)
}

// RateLimited builds a 429 error carrying the retry delay.
func RateLimited(retryAfter int) *Error {
	e := New(KindRateLimit, CodeTooManyRequests, "Too many requests, please retry later")
	e.RetryAfter = retryAfter
	return e
}

// Unauthenticated is the response when identity resolution is exhausted.
func Unauthenticated() *Error {
	return Authentication(CodeUnauthenticated, "Authentication required")
}

// As extracts an *Error from err. Unclassified errors become INTERNAL.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
