// Package upstream validates upstream (Microsoft Graph) bearer tokens.
//
// Upstream tokens are never trusted for their signature: the gateway only
// reads the JWT payload to learn who the caller is and what they were
// granted, then optionally asks the upstream /me endpoint whether the token
// is still accepted. Validation is pure and never retries; callers decide
// policy.
package upstream
