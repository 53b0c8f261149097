// Package server is the gateway's HTTP surface.
//
// Every request passes through request-id assignment, panic recovery,
// metrics, and the CORS policy. A disallowed Origin is refused with 403
// CORS_ORIGIN_REJECTED; requests without an Origin are never gated.
//
// Routes:
//
//	GET  /health                 liveness, version and uptime
//	GET  /tools                  tool catalogue, optionally ?module=
//	GET  /metrics                prometheus exposition (when enabled)
//	     /auth/*, /api/auth/*    auth flows, behind the auth rate limiter
//	GET  /v1/permissions         caller's scopes projected onto the catalogue
//	     /v1/<tool route>        one route per tool, behind the api limiter
//	     /mcp/*                  JSON-RPC over SSE
//	GET  /debug/config           redacted effective config (development)
//	GET  /debug/sessions         in-memory state sizes (development)
//
// Rate limiting is a fixed window per client IP. Every limited response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset
// (unix seconds); rejections are 429 with Retry-After.
package server
