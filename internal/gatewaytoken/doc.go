// Package gatewaytoken mints and verifies the gateway's own bearer tokens.
//
// Tokens are HS256-signed JWTs over {sub, deviceId, iat, exp, metadata}.
// sub is always a canonical user id ("ms365:ann@example.com") and deviceId
// identifies the client instance. Two lifetime classes are available for
// access tokens (short and long); refresh tokens issued by the device grant
// use a third, longer class and carry metadata.token_use = "refresh".
package gatewaytoken
