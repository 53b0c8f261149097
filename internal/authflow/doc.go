// Package authflow implements the four ways a caller obtains upstream
// credentials: interactive authorization code with PKCE, the device
// authorization grant, external-token injection, and the exchange of an
// upstream token for a gateway token.
//
// Every flow ends by writing a TokenRecord through the token provider under
// the caller's canonical user id. Programmatic flows also return a gateway
// token. Routes mounts the HTTP surface; the server mounts it under both
// /auth and /api/auth.
package authflow
