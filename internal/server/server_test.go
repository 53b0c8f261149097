package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m365gate/internal/app"
	"m365gate/internal/config"
	"m365gate/internal/upstream/upstreamtest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeGraph answers /me from the bearer's claims plus a few tool endpoints.
type fakeGraph struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string]map[string]any
}

func newFakeGraph(t *testing.T) *fakeGraph {
	g := &fakeGraph{bodies: map[string]map[string]any{}}
	g.Server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.Close)
	return g
}

func (g *fakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil && r.Method != http.MethodGet {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.bodies[r.Method+" "+r.URL.Path] = body
		g.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/me":
		claims := jwt.MapClaims{}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                claims["oid"],
			"displayName":       claims["name"],
			"mail":              claims["upn"],
			"userPrincipalName": claims["upn"],
		})
	case r.URL.Path == "/me/mailFolders/inbox/messages":
		_, _ = io.WriteString(w, `{"value":[{"id":"m1","subject":"Quarterly report",
			"from":{"emailAddress":{"address":"boss@contoso.com"}},"isRead":false}]}`)
	case r.URL.Path == "/me/todo/lists/L1/tasks" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"t1","title":"Buy milk","status":"notStarted","importance":"normal"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound","message":"not found"}}`)
	}
}

func (g *fakeGraph) body(key string) map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bodies[key]
}

type gateway struct {
	*httptest.Server
	graph    *fakeGraph
	services *app.Services
}

func newGateway(t *testing.T, mutate func(*config.Config)) *gateway {
	t.Helper()
	g := newFakeGraph(t)

	cfg := config.GetDefaultConfig()
	cfg.Mode = config.ModeDevelopment
	cfg.Auth.SigningSecret = testSecret
	cfg.Upstream.GraphBaseURL = g.URL
	cfg.Upstream.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	svc, err := app.InitializeServices(cfg, "test")
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(svc.Server.Handler())
	t.Cleanup(srv.Close)
	return &gateway{Server: srv, graph: g, services: svc}
}

func (gw *gateway) do(t *testing.T, method, path, token string, body string, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, gw.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	gw := newGateway(t, nil)

	resp := gw.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	gw := newGateway(t, nil)

	resp := gw.do(t, http.MethodGet, "/health", "", "", "X-Request-Id", "req-42")
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-Id"))
}

func TestCatalogue(t *testing.T) {
	gw := newGateway(t, nil)

	body := decode(t, gw.do(t, http.MethodGet, "/tools", "", ""))
	all := body["tools"].([]any)
	assert.Equal(t, float64(len(all)), body["count"])
	assert.Len(t, all, 35)

	body = decode(t, gw.do(t, http.MethodGet, "/tools?module=todo", "", ""))
	assert.Equal(t, float64(4), body["count"])
	first := body["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "listTaskLists", first["name"])
	assert.Equal(t, "GET", first["http"].(map[string]any)["method"])
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	gw := newGateway(t, nil)

	resp := gw.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode(t, resp)["error"])
}

func TestPermissions_ProjectScopesOntoCatalogue(t *testing.T) {
	gw := newGateway(t, nil)
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Calendars.Read Mail.Read")

	resp := gw.do(t, http.MethodGet, "/v1/permissions", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	assert.Equal(t, []any{"Calendars.Read", "Mail.Read"}, body["scopes"])
	assert.Equal(t, []any{"getInbox", "searchEmails", "getEmailDetails", "getEvents", "getAvailability", "search"},
		body["availableTools"])
	assert.Equal(t, float64(2), body["scopeCount"])
	assert.Equal(t, float64(6), body["toolCount"])
}

func TestV1_RequiresAuthentication(t *testing.T) {
	gw := newGateway(t, nil)

	resp := gw.do(t, http.MethodGet, "/v1/mail", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, resp)["error"])
}

func TestV1_QueryTokenRejected(t *testing.T) {
	gw := newGateway(t, nil)
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Mail.Read")

	resp := gw.do(t, http.MethodGet, "/v1/mail?token="+token, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_AUTH_METHOD", decode(t, resp)["error"])
}

func TestREST_ToolCallWithPresentedToken(t *testing.T) {
	gw := newGateway(t, nil)
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Mail.Read")

	resp := gw.do(t, http.MethodGet, "/v1/mail?top=5", token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := decode(t, resp)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "boss@contoso.com", items[0].(map[string]any)["from"])
}

func TestREST_CreatedToolMergesArguments(t *testing.T) {
	gw := newGateway(t, nil)
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Tasks.ReadWrite")

	resp := gw.do(t, http.MethodPost, "/v1/todo/lists/L1/tasks?title=from-query&importance=low", token,
		`{"title":"Buy milk","listId":"ignored"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "t1", decode(t, resp)["id"])

	sent := gw.graph.body("POST /me/todo/lists/L1/tasks")
	require.NotNil(t, sent)
	assert.Equal(t, "Buy milk", sent["title"])
	assert.Equal(t, "low", sent["importance"])
}

func TestREST_ValidationAndUpstreamErrors(t *testing.T) {
	gw := newGateway(t, nil)
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Mail.ReadWrite")

	resp := gw.do(t, http.MethodGet, "/v1/mail?top=500", token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", decode(t, resp)["error"])

	resp = gw.do(t, http.MethodGet, "/v1/mail/missing", token, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode(t, resp)["error"])

	resp = gw.do(t, http.MethodPost, "/v1/mail/send", token, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExchangeThenCallWithGatewayToken(t *testing.T) {
	gw := newGateway(t, nil)
	upstreamToken := upstreamtest.ValidToken("bob@contoso.com", "Bob", "Mail.Read")

	resp := gw.do(t, http.MethodPost, "/auth/graph-token-exchange", "",
		`{"graph_access_token":"`+upstreamToken+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exchanged := decode(t, resp)
	gatewayToken, _ := exchanged["access_token"].(string)
	require.NotEmpty(t, gatewayToken)

	resp = gw.do(t, http.MethodGet, "/v1/mail", gatewayToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = gw.do(t, http.MethodGet, "/v1/permissions", gatewayToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Mail.Read"}, decode(t, resp)["scopes"])
}

func TestCORS(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) {
		c.CORS.AllowedOrigins = []string{"https://app.contoso.com"}
	})

	resp := gw.do(t, http.MethodGet, "/health", "", "", "Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "CORS_ORIGIN_REJECTED", decode(t, resp)["error"])

	resp = gw.do(t, http.MethodOptions, "/v1/mail", "", "",
		"Origin", "https://app.contoso.com", "Access-Control-Request-Method", "GET")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.contoso.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")

	resp = gw.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS_ReloadedAllowlist(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) {
		c.CORS.AllowedOrigins = []string{"https://app.contoso.com"}
	})

	cfg := config.GetDefaultConfig()
	cfg.Mode = config.ModeDevelopment
	cfg.CORS.AllowedOrigins = []string{"https://new.contoso.com"}
	gw.services.Server.ApplyConfig(cfg)

	resp := gw.do(t, http.MethodGet, "/health", "", "", "Origin", "https://new.contoso.com")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = gw.do(t, http.MethodGet, "/health", "", "", "Origin", "https://app.contoso.com")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) {
		c.RateLimit.Max = 2
		c.RateLimit.Window = time.Minute
	})
	token := upstreamtest.ValidToken("ann@contoso.com", "Ann", "Mail.Read")

	for i := 0; i < 2; i++ {
		resp := gw.do(t, http.MethodGet, "/v1/permissions", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(1-i), resp.Header.Get("X-RateLimit-Remaining"))
	}

	resp := gw.do(t, http.MethodGet, "/v1/permissions", token, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "TOO_MANY_REQUESTS", decode(t, resp)["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().Unix())

	// Another client is counted separately.
	resp = gw.do(t, http.MethodGet, "/v1/permissions", token, "", "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Unlimited routes stay available.
	resp = gw.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newGateway(t, nil)
	gw.do(t, http.MethodGet, "/health", "", "")

	resp := gw.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `m365gate_http_requests_total{code="200",method="GET",route="/health"}`)
}

func TestMetricsDisabled(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) { c.Metrics.Enabled = false })

	resp := gw.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebugRoutes(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) { c.Upstream.ClientSecret = "super-secret" })

	resp := gw.do(t, http.MethodGet, "/debug/config", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret")
	assert.NotContains(t, string(raw), testSecret)

	resp = gw.do(t, http.MethodGet, "/debug/sessions", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := decode(t, resp)
	assert.Contains(t, counts, "sessions")
	assert.Contains(t, counts, "pendingDevices")
	assert.Contains(t, counts, "sse")
}

func TestDebugRoutesHiddenInProduction(t *testing.T) {
	gw := newGateway(t, func(c *config.Config) { c.Mode = config.ModeProduction })

	resp := gw.do(t, http.MethodGet, "/debug/config", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
