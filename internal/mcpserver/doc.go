// Package mcpserver exposes the tool catalogue over JSON-RPC 2.0 in the
// shape MCP clients expect.
//
// # Transports
//
// Two transports share one Router:
//
//   - Plain HTTP: POST /mcp (or /mcp/message without a session) answers the
//     JSON-RPC response in the HTTP body.
//   - Server-sent events: GET /mcp/sse opens a stream whose first event is
//     "endpoint", carrying the message URL with an opaque sessionId. Messages
//     POSTed to that URL are answered in the HTTP body and also pushed onto
//     the stream as "message" events. Idle streams receive keepalive comments.
//
// A stream's session is dropped as soon as the client disconnects; later
// POSTs naming it get 404.
//
// # Methods
//
// initialize, initialized (and notifications/initialized), ping, tools/list
// and tools/call. tools/list reports only the tools the caller's upstream
// scopes unlock. Tool failures that are the caller's fault (unknown tool,
// bad arguments) are JSON-RPC errors with -32602; everything else a handler
// returns is reported in the result with isError set.
package mcpserver
