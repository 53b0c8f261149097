package gatewaytoken

import "fmt"

// Verification error codes.
const (
	ErrCodeMalformed    = "MALFORMED"
	ErrCodeBadSignature = "BAD_SIGNATURE"
	ErrCodeExpired      = "EXPIRED"
)

// Error is returned by Verify.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway token %s: %v", e.Code, e.Err)
	}
	return "gateway token " + e.Code
}

func (e *Error) Unwrap() error { return e.Err }
