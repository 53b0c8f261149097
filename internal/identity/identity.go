package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Source says how an identity was established.
type Source string

const (
	SourceGatewayToken  Source = "gateway_token"
	SourceUpstreamToken Source = "upstream_token"
	SourceSession       Source = "session"
	SourceQueryToken    Source = "query_token"
)

// DeviceIDPrefix prefixes device ids derived from an email.
const DeviceIDPrefix = "synthetic-employee-"

// Identity is the request-scoped caller record.
type Identity struct {
	CanonicalUserID string
	DeviceID        string
	Source          Source
	Email           string
	Name            string
	// SessionID is set when a cookie session exists for the request.
	SessionID string
	// UpstreamToken is the bearer the caller presented, when it was an
	// upstream token rather than a gateway token.
	UpstreamToken string
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by the resolver.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// CanonicalUserID builds "<provider>:<email>" with the email lowercased.
// It returns "" when email is empty.
func CanonicalUserID(provider, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return provider + ":" + email
}

// EmailFromCanonical returns the part after the provider prefix.
func EmailFromCanonical(canonicalUserID string) string {
	if i := strings.IndexByte(canonicalUserID, ':'); i >= 0 {
		return canonicalUserID[i+1:]
	}
	return canonicalUserID
}

// DeriveDeviceID returns the deterministic device id used for callers that
// authenticate with an upstream token: the prefix followed by the first 16 hex
// characters of sha256(email).
func DeriveDeviceID(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return DeviceIDPrefix + hex.EncodeToString(sum[:])[:16]
}
