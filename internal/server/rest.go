package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"m365gate/internal/apierrors"
	"m365gate/internal/identity"
	"m365gate/internal/tools"
)

// maxToolBodyBytes leaves room for a base64 encoded 4 MB upload.
const maxToolBodyBytes = 8 << 20

// mountTools registers one route per catalogue entry.
func (s *Server) mountTools(r chi.Router) {
	for _, t := range s.dispatcher.Registry().Tools() {
		r.Method(t.HTTP.Method, t.HTTP.Path, s.toolHandler(t))
	}
}

// toolHandler merges query parameters, the JSON body and path parameters
// (in increasing precedence) into the tool arguments.
func (s *Server) toolHandler(t tools.Tool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := tools.Args{}
		for k, vs := range r.URL.Query() {
			if len(vs) == 1 {
				args[k] = vs[0]
				continue
			}
			items := make([]any, len(vs))
			for i, v := range vs {
				items[i] = v
			}
			args[k] = items
		}

		if r.Method != http.MethodGet && r.Body != nil {
			var body map[string]any
			err := json.NewDecoder(io.LimitReader(r.Body, maxToolBodyBytes)).Decode(&body)
			if err != nil && !errors.Is(err, io.EOF) {
				apierrors.WriteError(w, apierrors.Validation(apierrors.CodeInvalidRequest, "Request body must be a JSON object"))
				return
			}
			for k, v := range body {
				args[k] = v
			}
		}

		if rc := chi.RouteContext(r.Context()); rc != nil {
			for i, k := range rc.URLParams.Keys {
				if k != "*" {
					args[k] = rc.URLParams.Values[i]
				}
			}
		}

		caller, _ := identity.FromContext(r.Context())
		res, err := s.dispatcher.Call(r.Context(), tools.Call{
			Name:      t.Name,
			Args:      args,
			Identity:  caller,
			Transport: tools.TransportREST,
		})
		if err != nil {
			apierrors.WriteError(w, err)
			return
		}

		status := http.StatusOK
		if t.Created() {
			status = http.StatusCreated
		}
		if _, isText := res.Value.(string); isText {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, res.Text)
	}
}

func (s *Server) servePermissions(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	scopes, err := s.dispatcher.Scopes(r.Context(), caller)
	if err != nil {
		apierrors.WriteError(w, err)
		return
	}
	apierrors.WriteJSON(w, http.StatusOK, tools.PermissionsFor(scopes))
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) serveCatalogue(w http.ResponseWriter, r *http.Request) {
	catalogue := s.dispatcher.Registry().Tools()
	if module := r.URL.Query().Get("module"); module != "" {
		filtered := catalogue[:0]
		for _, t := range catalogue {
			if strings.EqualFold(t.Module, module) {
				filtered = append(filtered, t)
			}
		}
		catalogue = filtered
	}
	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"tools": catalogue,
		"count": len(catalogue),
	})
}

func (s *Server) serveDebugConfig(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) serveDebugSessions(w http.ResponseWriter, _ *http.Request) {
	counts := map[string]int{"sse": s.mcp.SessionCount()}
	if s.debugCounts != nil {
		for k, v := range s.debugCounts() {
			counts[k] = v
		}
	}
	apierrors.WriteJSON(w, http.StatusOK, counts)
}
