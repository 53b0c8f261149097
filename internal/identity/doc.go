// Package identity resolves who is calling.
//
// The Resolver tries, in order: a gateway-token bearer, an upstream-token
// bearer, a session cookie, and finally a ?token= query parameter. The query
// parameter is only honoured on SSE paths; anywhere else it is rejected with
// 400 INVALID_AUTH_METHOD. The resolved Identity is stored in the request
// context and read back with FromContext.
package identity
