// Package upstreamtest builds upstream tokens and a fake /me endpoint for tests.
package upstreamtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the audience used by Claims.
const Audience = "https://graph.microsoft.com"

// signingKey signs test tokens. The gateway never verifies upstream
// signatures, so any key works.
var signingKey = []byte("upstream-test-signing-key")

// Claims returns a valid claim set for email with the given scopes and lifetime.
func Claims(email, name, scopes string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"aud":  Audience,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"oid":  "oid-" + strings.SplitN(email, "@", 2)[0],
		"upn":  email,
		"name": name,
		"tid":  "tenant-1",
		"scp":  scopes,
	}
}

// Token signs claims into a three-segment JWT.
func Token(claims jwt.MapClaims) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return tok
}

// ValidToken is shorthand for Token(Claims(...)) with a one hour lifetime.
func ValidToken(email, name, scopes string) string {
	return Token(Claims(email, name, scopes, time.Hour))
}

// GraphServer is a fake upstream answering GET /me from the bearer's claims.
type GraphServer struct {
	*httptest.Server
	// Status, when non-zero, is returned instead of a profile.
	Status atomic.Int32
	// Delay is applied before answering.
	Delay atomic.Int64
	Calls atomic.Int32
}

// NewGraphServer starts a fake upstream. Callers must Close it.
func NewGraphServer() *GraphServer {
	g := &GraphServer{}
	g.Server = httptest.NewServer(http.HandlerFunc(g.handle))
	return g
}

func (g *GraphServer) handle(w http.ResponseWriter, r *http.Request) {
	g.Calls.Add(1)
	if d := time.Duration(g.Delay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if s := g.Status.Load(); s != 0 {
		w.WriteHeader(int(s))
		return
	}
	if !strings.HasSuffix(r.URL.Path, "/me") {
		http.NotFound(w, r)
		return
	}

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	upn, _ := claims["upn"].(string)
	name, _ := claims["name"].(string)
	oid, _ := claims["oid"].(string)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":                oid,
		"displayName":       name,
		"mail":              upn,
		"userPrincipalName": upn,
	})
}
