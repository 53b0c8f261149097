// Package config loads the gateway configuration.
//
// Configuration is layered: built-in defaults, then config.yaml from the
// configuration directory, then M365GATE_* environment variables, then
// command-line flags applied by the cmd package. The result is checked by
// Validate before the application is assembled.
//
// A Watcher can follow config.yaml at runtime; only the CORS allowlist and the
// rate-limit ceilings are applied without a restart.
package config
