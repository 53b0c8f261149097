// Package session keeps server-side browser sessions and the PKCE state
// fallback store.
//
// A session is identified by an opaque id carried in a cookie. It holds the
// PKCE verifier between /login and /callback and, after a successful login,
// the signed-in user ("msUser"). StateStore indexes verifiers by the OAuth
// state parameter so a callback that arrives without the cookie can still
// complete. Both stores expire entries in a background loop stopped by Stop.
package session
