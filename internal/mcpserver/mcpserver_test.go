package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m365gate/internal/graph"
	"m365gate/internal/identity"
	"m365gate/internal/modules"
	"m365gate/internal/tools"
	"m365gate/internal/upstream"
	"m365gate/internal/upstream/upstreamtest"
)

type storedTokens map[string]string

func (s storedTokens) GetUpstreamToken(_ context.Context, id string) (string, error) {
	return s[id], nil
}

type fixture struct {
	graph     *httptest.Server
	mu        sync.Mutex
	auth      []string
	token     string
	router    *Router
	transport *Transport
	server    *httptest.Server
}

var ann = &identity.Identity{CanonicalUserID: "ms365:ann@example.com", Email: "ann@example.com"}

func newFixture(t *testing.T, scopes string) *fixture {
	t.Helper()
	f := &fixture{token: upstreamtest.ValidToken("ann@example.com", "Ann", scopes)}

	f.graph = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/me/messages/missing") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"ErrorItemNotFound","message":"gone"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"value":[{"id":"m1","subject":"Hello"}]}`))
	}))
	t.Cleanup(f.graph.Close)

	reg, err := tools.NewRegistry(modules.All(graph.New(graph.Config{BaseURL: f.graph.URL}))...)
	require.NoError(t, err)
	checker := upstream.NewValidator(upstream.ValidatorConfig{Audience: upstreamtest.Audience})
	dispatcher := tools.NewDispatcher(reg, storedTokens{ann.CanonicalUserID: f.token}, checker, nil)

	f.router = NewRouter(dispatcher, "m365gate", "test")
	f.transport = NewTransport(f.router, Config{KeepAlive: 50 * time.Millisecond})
	t.Cleanup(f.transport.Close)

	asAnn := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), ann)))
		})
	}
	r := chi.NewRouter()
	r.Route("/mcp", func(r chi.Router) { f.transport.Routes(r, asAnn) })
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) handle(t *testing.T, msg string) map[string]any {
	t.Helper()
	resp := f.router.Handle(context.Background(), ann, []byte(msg))
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorCode(t *testing.T, msg map[string]any) float64 {
	t.Helper()
	e, ok := msg["error"].(map[string]any)
	require.True(t, ok, "expected an error response, got %v", msg)
	return e["code"].(float64)
}

func TestRouter_Initialize(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	out := f.handle(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	res := out["result"].(map[string]any)
	assert.Equal(t, ProtocolVersion, res["protocolVersion"])
	assert.Equal(t, map[string]any{"tools": map[string]any{"listChanged": false}}, res["capabilities"])
	assert.Equal(t, "m365gate", res["serverInfo"].(map[string]any)["name"])
	assert.EqualValues(t, 1, out["id"])
}

func TestRouter_EnvelopeErrors(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	assert.EqualValues(t, -32700, errorCode(t, f.handle(t, `{not json`)))
	assert.EqualValues(t, -32600, errorCode(t, f.handle(t, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)))
	assert.EqualValues(t, -32600, errorCode(t, f.handle(t, `{"jsonrpc":"2.0","id":1}`)))
	assert.EqualValues(t, -32600, errorCode(t, f.handle(t, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)))
	assert.EqualValues(t, -32600, errorCode(t, f.handle(t, `"x"`)))
	assert.EqualValues(t, -32600, errorCode(t, f.handle(t, `{"jsonrpc":"2.0","id":1,"method":5}`)))
	assert.EqualValues(t, -32601, errorCode(t, f.handle(t, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)))
	assert.EqualValues(t, -32602, errorCode(t, f.handle(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`)))

	parse := f.handle(t, `{not json`)
	assert.Nil(t, parse["id"])
}

func TestRouter_NotificationsHaveNoResponse(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	assert.Nil(t, f.router.Handle(context.Background(), ann, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Nil(t, f.router.Handle(context.Background(), ann, []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled"}`)))

	out := f.handle(t, `{"jsonrpc":"2.0","id":"p","method":"ping"}`)
	assert.Equal(t, "p", out["id"])
	assert.Equal(t, map[string]any{}, out["result"])
}

func TestRouter_ToolsListFollowsScopes(t *testing.T) {
	f := newFixture(t, "Mail.Read Files.Read")

	out := f.handle(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	listed := out["result"].(map[string]any)["tools"].([]any)

	var names []string
	for _, item := range listed {
		tool := item.(map[string]any)
		names = append(names, tool["name"].(string))
		assert.Contains(t, tool, "inputSchema")
	}
	assert.ElementsMatch(t, tools.AvailableTools([]string{"Mail.Read", "Files.Read"}), names)
	assert.Contains(t, names, "getInbox")
	assert.Contains(t, names, "downloadFile")
	assert.NotContains(t, names, "sendEmail")
}

func TestRouter_ToolCallErrors(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	out := f.handle(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"noSuchTool"}}`)
	assert.EqualValues(t, -32602, errorCode(t, out))
	data := out["error"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "UNKNOWN_TOOL", data["error"])

	out = f.handle(t, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"getInbox","arguments":{"top":500}}}`)
	assert.EqualValues(t, -32602, errorCode(t, out))

	out = f.handle(t, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"getEmailDetails","arguments":{"id":"missing"}}}`)
	res := out["result"].(map[string]any)
	assert.Equal(t, true, res["isError"])
	text := res["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.True(t, strings.HasPrefix(text, "NOT_FOUND"), text)
}

func TestMessageEndpoint_ToolCall(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"getInbox","arguments":{"top":5}}}`
	resp, err := http.Post(f.server.URL+"/mcp/message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Result  struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError *bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	assert.Equal(t, "2.0", out.JSONRPC)
	assert.Equal(t, 7, out.ID)
	require.NotNil(t, out.Result.IsError)
	assert.False(t, *out.Result.IsError)
	require.Len(t, out.Result.Content, 1)
	assert.Equal(t, "text", out.Result.Content[0].Type)

	var list struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out.Result.Content[0].Text), &list))
	assert.Len(t, list.Items, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"Bearer " + f.token}, f.auth)
}

func TestMessageEndpoint_NotificationIsAccepted(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	resp, err := http.Post(f.server.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestMessageEndpoint_UnknownSession(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	resp, err := http.Post(f.server.URL+"/mcp/message?sessionId=nope", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// readEvent reads one SSE block: either a comment or an event with data.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, ":"):
			event = "comment"
			data = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSE_SessionLifecycle(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := bufio.NewReader(resp.Body)
	event, endpoint := readEvent(t, stream)
	require.Equal(t, "endpoint", event)
	require.True(t, strings.HasPrefix(endpoint, "/mcp/message?sessionId="), endpoint)
	assert.Equal(t, 1, f.transport.SessionCount())

	post, err := http.Post(f.server.URL+endpoint, "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","id":9,"method":"ping"}`))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	sawMessage, sawKeepalive := false, false
	for !(sawMessage && sawKeepalive) {
		event, data := readEvent(t, stream)
		switch event {
		case "message":
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":9,"result":{}}`, data)
			sawMessage = true
		case "comment":
			assert.Equal(t, "keepalive", data)
			sawKeepalive = true
		}
	}

	cancel()
	assert.Eventually(t, func() bool { return f.transport.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	post, err = http.Post(f.server.URL+endpoint, "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","id":10,"method":"ping"}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusNotFound, post.StatusCode)
}

func TestSSE_CloseEndsStreams(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	resp, err := http.Get(f.server.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	event, _ := readEvent(t, bufio.NewReader(resp.Body))
	require.Equal(t, "endpoint", event)

	f.transport.Close()
	assert.Eventually(t, func() bool { return f.transport.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeInfo(t *testing.T) {
	f := newFixture(t, "Mail.Read")

	resp, err := http.Get(f.server.URL + "/mcp/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, ProtocolVersion, info["protocolVersion"])
	assert.EqualValues(t, len(f.router.dispatcher.Registry().Tools()), info["toolCount"])
}
