// Package graph is the HTTP client the tool modules use to call the upstream
// API on behalf of a user. Every request carries the caller's upstream bearer
// and is bounded by a per-request timeout; non-2xx answers come back as *Error.
package graph
