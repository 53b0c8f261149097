package server

import (
	"net/http"
	"strings"
	"sync"

	"m365gate/internal/apierrors"
	"m365gate/pkg/logging"
)

const (
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Request-Id, Mcp-Session-Id"
	corsMaxAge       = "600"
)

// corsPolicy gates browser requests by Origin. Requests without an Origin
// header are never gated.
type corsPolicy struct {
	mu       sync.RWMutex
	allowed  map[string]bool
	allowAll bool
}

func newCORSPolicy(origins []string, development bool) *corsPolicy {
	p := &corsPolicy{}
	p.set(origins, development)
	return p
}

func (p *corsPolicy) set(origins []string, development bool) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = true
		}
	}
	allowAll := len(allowed) == 0 && development
	if allowAll {
		logging.Warn("CORS", "No CORS allowlist configured in development mode; allowing all origins")
	}

	p.mu.Lock()
	p.allowed = allowed
	p.allowAll = allowAll
	p.mu.Unlock()
}

func (p *corsPolicy) allows(origin string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allowAll || p.allowed[origin]
}

func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !p.allows(origin) {
			logging.Debug("CORS", "Rejected origin %s for %s %s", origin, r.Method, r.URL.Path)
			apierrors.WriteError(w, apierrors.Authorization(apierrors.CodeCORSRejected, "Origin "+origin+" is not allowed"))
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.Set("Access-Control-Expose-Headers", "X-Request-Id, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		next.ServeHTTP(w, r)
	})
}
