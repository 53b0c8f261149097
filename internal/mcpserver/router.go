package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"m365gate/internal/apierrors"
	"m365gate/internal/identity"
	"m365gate/internal/tools"
	"m365gate/pkg/logging"
)

// Router answers JSON-RPC messages for one caller at a time.
type Router struct {
	dispatcher *tools.Dispatcher
	info       mcp.Implementation
}

// NewRouter creates a Router that reports itself as name/version.
func NewRouter(dispatcher *tools.Dispatcher, name, version string) *Router {
	return &Router{
		dispatcher: dispatcher,
		info:       mcp.Implementation{Name: name, Version: version},
	}
}

// Info returns the server implementation details.
func (rt *Router) Info() mcp.Implementation { return rt.info }

// Handle processes one raw message. It returns nil for notifications.
func (rt *Router) Handle(ctx context.Context, caller *identity.Identity, payload []byte) *Response {
	var raw json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return failure(nil, mcp.PARSE_ERROR, "Parse error", nil)
	}
	// Valid JSON that is not a request object (batches, scalars, wrong
	// field types) is an invalid request rather than a parse error.
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(nil, mcp.INVALID_REQUEST, "Invalid Request", nil)
	}
	if req.JSONRPC != mcp.JSONRPC_VERSION || req.Method == "" {
		return failure(req.ID, mcp.INVALID_REQUEST, "Invalid Request", nil)
	}

	resp := rt.dispatch(ctx, caller, &req)
	if req.isNotification() {
		return nil
	}
	return resp
}

func (rt *Router) dispatch(ctx context.Context, caller *identity.Identity, req *request) *Response {
	switch req.Method {
	case "initialize":
		res := initializeResult{ProtocolVersion: ProtocolVersion, ServerInfo: rt.info}
		res.Instructions = "Tools act on the signed-in user's Microsoft 365 data."
		return result(req.ID, res)

	case "initialized", "notifications/initialized", "ping":
		return result(req.ID, struct{}{})

	case "tools/list":
		return rt.listTools(ctx, caller, req.ID)

	case "tools/call":
		return rt.callTool(ctx, caller, req)
	}

	if strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}
	return failure(req.ID, mcp.METHOD_NOT_FOUND, "Method not found: "+req.Method, nil)
}

func (rt *Router) listTools(ctx context.Context, caller *identity.Identity, id json.RawMessage) *Response {
	scopes, err := rt.dispatcher.Scopes(ctx, caller)
	if err != nil {
		return failureFor(id, err)
	}
	available := rt.dispatcher.Registry().ToolsFor(scopes)
	out := listToolsResult{Tools: make([]mcp.Tool, 0, len(available))}
	for _, t := range available {
		out.Tools = append(out.Tools, tools.MCPTool(t))
	}
	return result(id, out)
}

func (rt *Router) callTool(ctx context.Context, caller *identity.Identity, req *request) *Response {
	var params callToolParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		return failure(req.ID, mcp.INVALID_PARAMS, "Invalid params: a tool name is required", nil)
	}

	res, err := rt.dispatcher.Call(ctx, tools.Call{
		Name:      params.Name,
		Args:      tools.Args(params.Arguments),
		Identity:  caller,
		Transport: tools.TransportJSONRPC,
	})
	if err != nil {
		apiErr := apierrors.As(err)
		if apiErr.Kind == apierrors.KindValidation {
			return failureFor(req.ID, apiErr)
		}
		logging.Debug("MCP", "Tool %s returned an error result: %s", params.Name, apiErr.Code)
		return result(req.ID, textResult(apiErr.Code+": "+apiErr.Description, true))
	}
	return result(req.ID, textResult(res.Text, false))
}
