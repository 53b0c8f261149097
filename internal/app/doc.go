// Package app bootstraps and runs the gateway.
//
// It is the composition root: NewApplication resolves the effective
// configuration (config.yaml, then M365GATE_* environment variables, then
// command-line overrides), configures logging and builds every component
// in dependency order:
//
//	storage → upstream validator → gateway tokens → token provider
//	       → sessions, OAuth states, device manager → auth flows
//	       → identity resolver → graph client → tool registry → dispatcher
//	       → MCP transport → HTTP server
//
// Run serves until cancelled or signalled, hot-reloads the CORS allowlist
// and rate limits from config.yaml, and shuts down gracefully: SSE streams
// are closed first, in-flight requests are drained within the configured
// shutdown timeout and background cleanup loops are stopped.
package app
