// Package oauth provides the small set of OAuth primitives shared by the
// gateway's auth flows.
//
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - State: random CSRF state values for the authorization-code redirect
//   - Device codes: device_code / user_code generation (RFC 8628)
//   - Token: the upstream token response as persisted by the gateway
//
// Usage:
//
//	pkce, err := oauth.GeneratePKCE()
//	url := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(pkce.CodeVerifier))
package oauth
