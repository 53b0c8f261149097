package mcpserver

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"m365gate/internal/apierrors"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

var nullID = json.RawMessage("null")

// request is an incoming JSON-RPC message. A request without an id is a
// notification and gets no response.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool { return len(r.ID) == 0 }

// Response is an outgoing JSON-RPC message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. Data carries the gateway error body
// when one exists.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: v}
}

func failure(id json.RawMessage, code int, message string, data any) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// failureFor maps a gateway error onto a JSON-RPC error: client mistakes are
// invalid params, the rest internal errors.
func failureFor(id json.RawMessage, err error) *Response {
	apiErr := apierrors.As(err)
	code := mcp.INTERNAL_ERROR
	if apiErr.Kind == apierrors.KindValidation {
		code = mcp.INVALID_PARAMS
	}
	return failure(id, code, apiErr.Description, apierrors.BodyFor(apiErr))
}

// toolResult is the tools/call result. isError is always present.
type toolResult struct {
	Content []mcp.Content `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string, isError bool) toolResult {
	return toolResult{Content: []mcp.Content{mcp.NewTextContent(text)}, IsError: isError}
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    capabilities       `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type capabilities struct {
	Tools struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools"`
}

type listToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
