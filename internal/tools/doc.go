// Package tools holds the tool catalogue shared by the REST and JSON-RPC
// surfaces.
//
// Modules (mail, calendar, files, ...) register their methods as a static
// table. A fixed alias table gives each method its public tool name, and a
// scope table projects the caller's upstream scopes onto the tools they
// unlock. The Dispatcher resolves a tool name, validates arguments, attaches
// the caller's upstream bearer as the accessToken argument and normalizes the
// handler result.
package tools
