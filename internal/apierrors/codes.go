package apierrors

// Kind classifies an error for envelope mapping.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindUpstream       Kind = "UPSTREAM"
	KindNotFound       Kind = "NOT_FOUND"
	KindInternal       Kind = "INTERNAL"
	KindRateLimit      Kind = "RATE_LIMIT"
)

// Stable error codes. These strings are part of the external contract.
const (
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeInvalidAuthMethod       = "INVALID_AUTH_METHOD"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeTokenVerificationFailed = "TOKEN_VERIFICATION_FAILED"
	CodeInvalidUserInfo         = "INVALID_USER_INFO"
	CodeExchangeFailed          = "EXCHANGE_FAILED"
	CodeNoCodeVerifier          = "NO_CODE_VERIFIER"
	CodeInvalidState            = "INVALID_STATE"
	CodeAuthFailed              = "AUTH_FAILED"
	CodeNoValidToken            = "NO_VALID_TOKEN"
	CodeReauthRequired          = "REAUTH_REQUIRED"
	CodeNoInteractiveSession    = "NO_INTERACTIVE_SESSION"
	CodeInsufficientScope       = "INSUFFICIENT_SCOPE"
	CodeUnknownTool             = "UNKNOWN_TOOL"
	CodeMethodNotFound          = "METHOD_NOT_FOUND"
	CodeNotFound                = "NOT_FOUND"
	CodeUpstreamError           = "UPSTREAM_ERROR"
	CodeUpstreamTimeout         = "UPSTREAM_TIMEOUT"
	CodeTooManyRequests         = "TOO_MANY_REQUESTS"
	CodeCORSRejected            = "CORS_ORIGIN_REJECTED"
	CodeInternal                = "INTERNAL_ERROR"
)
