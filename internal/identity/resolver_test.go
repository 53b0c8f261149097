package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m365gate/internal/gatewaytoken"
	"m365gate/internal/upstream"
	"m365gate/internal/upstream/upstreamtest"
)

type stubSessions map[string]*Identity

func (s stubSessions) ResolveSession(r *http.Request) (*Identity, bool) {
	c, err := r.Cookie("sid")
	if err != nil {
		return nil, false
	}
	id, ok := s[c.Value]
	return id, ok
}

type fixture struct {
	resolver *Resolver
	tokens   *gatewaytoken.Service
}

func newFixture(t *testing.T, sessions SessionResolver) fixture {
	t.Helper()
	svc, err := gatewaytoken.NewService(gatewaytoken.Config{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	validator := upstream.NewValidator(upstream.ValidatorConfig{Audience: upstreamtest.Audience})
	return fixture{resolver: NewResolver("ms365", svc, validator, sessions, nil), tokens: svc}
}

func (f fixture) serve(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	h := f.resolver.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, got
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func TestResolver_GatewayTokenHeader(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.tokens.Issue("dev-1", "ms365:a@b.com", map[string]any{"name": "Ann"}, gatewaytoken.ClassShort)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec, id := f.serve(t, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ms365:a@b.com", id.CanonicalUserID)
	assert.Equal(t, "dev-1", id.DeviceID)
	assert.Equal(t, SourceGatewayToken, id.Source)
	assert.Equal(t, "Ann", id.Name)
	assert.Empty(t, id.UpstreamToken)
}

func TestResolver_UpstreamTokenHeader(t *testing.T) {
	f := newFixture(t, nil)
	tok := upstreamtest.ValidToken("Ann@B.com", "Ann", "Mail.Read")

	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec, id := f.serve(t, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ms365:ann@b.com", id.CanonicalUserID)
	assert.Equal(t, DeriveDeviceID("ann@b.com"), id.DeviceID)
	assert.Equal(t, SourceUpstreamToken, id.Source)
	assert.Equal(t, tok, id.UpstreamToken)
}

func TestResolver_RefreshTokenIsNotAnAccessToken(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.tokens.Issue("dev-1", "ms365:a@b.com",
		map[string]any{gatewaytoken.MetadataTokenUse: gatewaytoken.TokenUseRefresh}, gatewaytoken.ClassRefresh)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	rec, _ := f.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubRecords struct {
	users map[string]bool
	err   error
}

func (s stubRecords) HasRecord(_ context.Context, canonicalUserID string) (bool, error) {
	return s.users[canonicalUserID], s.err
}

func TestResolver_GatewayTokenRequiresRecord(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.tokens.Issue("dev-1", "ms365:a@b.com", nil, gatewaytoken.ClassLong)
	require.NoError(t, err)

	tests := []struct {
		name    string
		records stubRecords
		want    int
	}{
		{"signed in", stubRecords{users: map[string]bool{"ms365:a@b.com": true}}, http.StatusNoContent},
		{"signed out", stubRecords{users: map[string]bool{}}, http.StatusUnauthorized},
		{"storage error", stubRecords{err: errors.New("backend down")}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.resolver.records = tt.records
			req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
			req.Header.Set("Authorization", "Bearer "+issued.Token)
			rec, _ := f.serve(t, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestResolver_InvalidBearerFallsThroughToSession(t *testing.T) {
	sessions := stubSessions{"s1": {CanonicalUserID: "ms365:c@d.com", Source: SourceSession, SessionID: "s1"}}
	f := newFixture(t, sessions)

	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.AddCookie(&http.Cookie{Name: "sid", Value: "s1"})
	rec, id := f.serve(t, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ms365:c@d.com", id.CanonicalUserID)
	assert.Equal(t, SourceSession, id.Source)
}

func TestResolver_HeaderWinsOverSession(t *testing.T) {
	sessions := stubSessions{"s1": {CanonicalUserID: "ms365:c@d.com", Source: SourceSession, SessionID: "s1"}}
	f := newFixture(t, sessions)
	issued, err := f.tokens.Issue("dev-1", "ms365:a@b.com", nil, gatewaytoken.ClassShort)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "s1"})
	_, id := f.serve(t, req)

	assert.Equal(t, "ms365:a@b.com", id.CanonicalUserID)
	assert.Empty(t, id.SessionID, "session belongs to someone else")
}

func TestResolver_QueryToken(t *testing.T) {
	f := newFixture(t, nil)
	issued, err := f.tokens.Issue("dev-1", "ms365:a@b.com", nil, gatewaytoken.ClassShort)
	require.NoError(t, err)

	t.Run("accepted on sse", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mcp/sse?token="+issued.Token, nil)
		rec, id := f.serve(t, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, SourceQueryToken, id.Source)
		assert.Equal(t, "ms365:a@b.com", id.CanonicalUserID)
	})

	t.Run("rejected elsewhere", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/mail?token="+issued.Token, nil)
		rec, id := f.serve(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_AUTH_METHOD", errorCode(t, rec))
		assert.Nil(t, id)
	})

	t.Run("header takes precedence over query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/mail?token=whatever", nil)
		req.Header.Set("Authorization", "Bearer "+issued.Token)
		rec, _ := f.serve(t, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestResolver_Unauthenticated(t *testing.T) {
	f := newFixture(t, stubSessions{})
	rec, _ := f.serve(t, httptest.NewRequest(http.MethodGet, "/v1/mail", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
}

func TestResolver_ExpiredUpstreamToken(t *testing.T) {
	f := newFixture(t, nil)
	c := upstreamtest.Claims("a@b.com", "Ann", "", 0)
	req := httptest.NewRequest(http.MethodGet, "/v1/mail", nil)
	req.Header.Set("Authorization", "Bearer "+upstreamtest.Token(c))
	rec, _ := f.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptional(t *testing.T) {
	f := newFixture(t, nil)
	called := false
	h := f.resolver.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := FromContext(r.Context())
		assert.False(t, ok)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/status", nil))
	assert.True(t, called)
}

func TestIsSSEPath(t *testing.T) {
	assert.True(t, IsSSEPath("/mcp/sse"))
	assert.True(t, IsSSEPath("/sse"))
	assert.False(t, IsSSEPath("/v1/mail"))
	assert.False(t, IsSSEPath("/mcp/message"))
}
