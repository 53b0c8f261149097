package mcpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"m365gate/internal/apierrors"
	"m365gate/internal/identity"
	"m365gate/internal/metrics"
	"m365gate/pkg/logging"
)

const (
	// DefaultKeepAlive is the interval between keepalive comments.
	DefaultKeepAlive = 30 * time.Second

	// DefaultMessagePath is advertised in the endpoint event.
	DefaultMessagePath = "/mcp/message"

	maxMessageBytes = 1 << 20
	eventBuffer     = 16
)

// Config configures a Transport.
type Config struct {
	KeepAlive time.Duration
	// MessagePath is the POST URL clients are told to use, relative to the
	// server root.
	MessagePath string
	Metrics     *metrics.Metrics
}

// Transport serves the router over plain HTTP and SSE.
type Transport struct {
	router      *Router
	keepAlive   time.Duration
	messagePath string
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*session

	closeOnce sync.Once
	closed    chan struct{}
}

// session is one open SSE stream. Only the stream's own handler writes to
// the connection; everyone else hands it events.
type session struct {
	id     string
	userID string
	events chan []byte
	done   <-chan struct{}
}

// NewTransport creates a Transport.
func NewTransport(router *Router, cfg Config) *Transport {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.MessagePath == "" {
		cfg.MessagePath = DefaultMessagePath
	}
	return &Transport{
		router:      router,
		keepAlive:   cfg.KeepAlive,
		messagePath: cfg.MessagePath,
		metrics:     cfg.Metrics,
		sessions:    make(map[string]*session),
		closed:      make(chan struct{}),
	}
}

// Routes mounts the MCP endpoints on r. require guards everything except
// /info.
func (t *Transport) Routes(r chi.Router, require func(http.Handler) http.Handler) {
	r.Get("/info", t.ServeInfo)
	r.Group(func(r chi.Router) {
		r.Use(require)
		r.Get("/sse", t.ServeSSE)
		r.Post("/sse", t.ServeMessage)
		r.Post("/message", t.ServeMessage)
		r.Post("/", t.ServeMessage)
	})
}

// SessionCount returns the number of open SSE streams.
func (t *Transport) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Close ends every open stream. Used at shutdown.
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *Transport) lookup(id string) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// ServeSSE opens an event stream for the caller.
func (t *Transport) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierrors.WriteError(w, apierrors.Internal(fmt.Errorf("streaming unsupported")))
		return
	}
	caller, _ := identity.FromContext(r.Context())

	s := &session{
		id:     uuid.NewString(),
		events: make(chan []byte, eventBuffer),
		done:   r.Context().Done(),
	}
	if caller != nil {
		s.userID = caller.CanonicalUserID
	}

	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()
	t.metrics.SSESessionOpened()
	logging.Debug("MCP", "SSE session %s opened", logging.TruncateSessionID(s.id))

	defer func() {
		t.mu.Lock()
		delete(t.sessions, s.id)
		t.mu.Unlock()
		t.metrics.SSESessionClosed()
		logging.Debug("MCP", "SSE session %s closed", logging.TruncateSessionID(s.id))
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := t.messagePath + "?sessionId=" + url.QueryEscape(s.id)
	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-t.closed:
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case data := <-s.events:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// deliver queues data on the stream unless the stream is gone or full.
func (t *Transport) deliver(s *session, data []byte) {
	select {
	case <-s.done:
	case <-t.closed:
	case s.events <- data:
	default:
		logging.Warn("MCP", "SSE session %s is not draining; dropping a message", logging.TruncateSessionID(s.id))
	}
}

// ServeMessage handles a POSTed JSON-RPC message. With a sessionId the
// response also goes to that session's stream.
func (t *Transport) ServeMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	var s *session
	if sid := r.URL.Query().Get("sessionId"); sid != "" {
		s = t.lookup(sid)
		if s == nil || (caller != nil && s.userID != caller.CanonicalUserID) {
			apierrors.WriteError(w, apierrors.NotFound("Unknown or closed SSE session"))
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "Could not read the request body"))
		return
	}

	resp := t.router.Handle(r.Context(), caller, payload)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s != nil {
		if data, err := json.Marshal(resp); err == nil {
			t.deliver(s, data)
		} else {
			logging.Error("MCP", err, "Failed to encode a response for the SSE stream")
		}
	}
	apierrors.WriteJSON(w, http.StatusOK, resp)
}

// ServeInfo describes the MCP endpoints.
func (t *Transport) ServeInfo(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo":      t.router.Info(),
		"transports":      []string{"sse", "http"},
		"endpoints": map[string]string{
			"sse":     "/mcp/sse",
			"message": t.messagePath,
			"http":    "/mcp",
		},
		"toolCount":      len(t.router.dispatcher.Registry().Tools()),
		"activeSessions": t.SessionCount(),
	})
}
