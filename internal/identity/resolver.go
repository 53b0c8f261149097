package identity

import (
	"context"
	"net/http"
	"strings"

	"m365gate/internal/apierrors"
	"m365gate/internal/gatewaytoken"
	"m365gate/internal/upstream"
	"m365gate/pkg/logging"
)

// TokenVerifier verifies gateway tokens.
type TokenVerifier interface {
	Verify(token string) (*gatewaytoken.Claims, error)
}

// UpstreamChecker validates upstream tokens offline.
type UpstreamChecker interface {
	QuickValidate(token string) upstream.Result
}

// SessionResolver looks up the caller from a session cookie.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*Identity, bool)
}

// RecordChecker reports whether a user still has a stored token record.
// Gateway tokens are stateless, so logout is enforced through it.
type RecordChecker interface {
	HasRecord(ctx context.Context, canonicalUserID string) (bool, error)
}

// Resolver implements the identity resolution chain.
type Resolver struct {
	provider string
	verifier TokenVerifier
	checker  UpstreamChecker
	sessions SessionResolver
	records  RecordChecker
}

// NewResolver creates a Resolver. sessions and records may be nil; without
// records every verified gateway token resolves.
func NewResolver(provider string, verifier TokenVerifier, checker UpstreamChecker, sessions SessionResolver, records RecordChecker) *Resolver {
	return &Resolver{provider: provider, verifier: verifier, checker: checker, sessions: sessions, records: records}
}

// IsSSEPath reports whether path belongs to the streaming endpoint family.
func IsSSEPath(path string) bool {
	return strings.HasSuffix(path, "/sse") || strings.Contains(path, "/sse/")
}

// Resolve runs the resolution chain. It returns (nil, nil) when no method
// produced an identity and an error when the request used a forbidden method.
func (res *Resolver) Resolve(r *http.Request) (*Identity, error) {
	if bearer := bearerToken(r); bearer != "" {
		if id := res.fromToken(r.Context(), bearer, false); id != nil {
			return res.withSession(r, id), nil
		}
		logging.Debug("Identity", "Bearer token rejected, trying session cookie")
	}

	if res.sessions != nil {
		if id, ok := res.sessions.ResolveSession(r); ok {
			return id, nil
		}
	}

	if q := r.URL.Query().Get("token"); q != "" {
		if !IsSSEPath(r.URL.Path) {
			logging.Audit(logging.AuditEvent{
				Action:     "query_token_rejected",
				Outcome:    "denied",
				Target:     r.URL.Path,
				Reason:     apierrors.CodeInvalidAuthMethod,
				RemoteAddr: r.RemoteAddr,
			})
			return nil, apierrors.Validation(apierrors.CodeInvalidAuthMethod,
				"Query parameter tokens are only accepted on streaming endpoints; use the Authorization header")
		}
		if id := res.fromToken(r.Context(), q, true); id != nil {
			logging.Audit(logging.AuditEvent{
				Action:     "query_token_auth",
				Outcome:    "success",
				UserHash:   logging.HashIdentity(id.CanonicalUserID),
				Target:     r.URL.Path,
				RemoteAddr: r.RemoteAddr,
			})
			return id, nil
		}
	}

	return nil, nil
}

func (res *Resolver) fromToken(ctx context.Context, token string, fromQuery bool) *Identity {
	source := func(s Source) Source {
		if fromQuery {
			return SourceQueryToken
		}
		return s
	}

	if res.verifier != nil {
		claims, err := res.verifier.Verify(token)
		if err == nil {
			if claims.IsRefresh() {
				logging.Debug("Identity", "Refresh token presented as bearer, ignoring")
				return nil
			}
			if !res.hasRecord(ctx, claims.UserID()) {
				return nil
			}
			id := &Identity{
				CanonicalUserID: claims.UserID(),
				DeviceID:        claims.DeviceID,
				Source:          source(SourceGatewayToken),
				Email:           EmailFromCanonical(claims.UserID()),
			}
			if name, ok := claims.Metadata["name"].(string); ok {
				id.Name = name
			}
			return id
		}
		logging.Debug("Identity", "Not a gateway token: %v", err)
	}

	if res.checker != nil {
		result := res.checker.QuickValidate(token)
		if result.Valid && result.Metadata != nil {
			canonical := CanonicalUserID(res.provider, result.Metadata.User.Email)
			if canonical == "" {
				logging.Debug("Identity", "Upstream token carries no email claim")
				return nil
			}
			return &Identity{
				CanonicalUserID: canonical,
				DeviceID:        DeriveDeviceID(result.Metadata.User.Email),
				Source:          source(SourceUpstreamToken),
				Email:           strings.ToLower(result.Metadata.User.Email),
				Name:            result.Metadata.User.Name,
				UpstreamToken:   upstream.StripBearer(token),
			}
		}
		logging.Debug("Identity", "Not a valid upstream token: %s", result.ErrorCode)
	}
	return nil
}

// hasRecord reports whether a gateway token's user is still signed in. A
// storage error counts as signed out.
func (res *Resolver) hasRecord(ctx context.Context, canonicalUserID string) bool {
	if res.records == nil {
		return true
	}
	ok, err := res.records.HasRecord(ctx, canonicalUserID)
	if err != nil {
		logging.Warn("Identity", "Failed to look up token record for user=%s: %v", logging.HashIdentity(canonicalUserID), err)
		return false
	}
	if !ok {
		logging.Debug("Identity", "Gateway token for user=%s has no token record, treating as signed out", logging.HashIdentity(canonicalUserID))
	}
	return ok
}

// withSession attaches the cookie session id, if any, to a token identity so
// that logout can clear both.
func (res *Resolver) withSession(r *http.Request, id *Identity) *Identity {
	if res.sessions == nil {
		return id
	}
	if sid, ok := res.sessions.ResolveSession(r); ok && sid.CanonicalUserID == id.CanonicalUserID {
		id.SessionID = sid.SessionID
	}
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Require rejects requests without an identity with 401 UNAUTHENTICATED.
func (res *Resolver) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := res.Resolve(r)
		if err != nil {
			apierrors.WriteError(w, err)
			return
		}
		if id == nil {
			apierrors.WriteError(w, apierrors.Unauthenticated())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Optional attaches an identity when one resolves and never rejects on a
// missing identity.
func (res *Resolver) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := res.Resolve(r)
		if err != nil {
			apierrors.WriteError(w, err)
			return
		}
		if id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
