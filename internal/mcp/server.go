// ABOUTME: JSON-RPC 2.0 server instance for the MCP tool surface
// ABOUTME: One instance per authenticated identity; dispatches initialize, tools/list, tools/call

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/knowledge"
)

// ProtocolVersion is the MCP protocol revision advertised in initialize responses.
const ProtocolVersion = "2024-11-05"

// ServerName and ServerVersion identify this server in initialize responses
// and the discovery document.
const (
	ServerName    = "learn-assistant"
	ServerVersion = "1.0.0"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request. ID is kept raw so it is
// echoed back verbatim whatever type the caller used; an absent ID marks a
// notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes, plus the server-error code used for
// authentication and session failures.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
	JSONRPCServerError    = -32000
)

// HTTPStatusForCode maps a JSON-RPC error code to the HTTP status the
// stateless transport uses. Caller errors (bad envelope, unknown method or
// tool, bad arguments, auth and session failures) map to 400; execution
// failures map to 500.
func HTTPStatusForCode(code int) int {
	switch {
	case code == JSONRPCParseError,
		code == JSONRPCInvalidRequest,
		code == JSONRPCMethodNotFound,
		code == JSONRPCInvalidParams:
		return 400
	case code <= JSONRPCServerError && code > JSONRPCServerError-100:
		return 400
	default:
		return 500
	}
}

// NewResult builds a success response echoing the request id.
func NewResult(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

// NewError builds an error response echoing the request id.
func NewError(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

// normalizeID turns an absent id into an explicit null so the response
// envelope always carries the id field.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// ServerInstance is one JSON-RPC server bound to a single authenticated
// identity. The identity is immutable after construction; instances hold no
// other mutable state, so concurrent dispatch against one instance is safe.
type ServerInstance struct {
	identity  auth.Identity
	knowledge *knowledge.Service
	logger    *slog.Logger
}

// NewServerInstance binds a server instance to the given identity.
func NewServerInstance(identity auth.Identity, svc *knowledge.Service, logger *slog.Logger) *ServerInstance {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerInstance{
		identity:  identity,
		knowledge: svc,
		logger:    logger.With("component", "mcp", "user_id", identity.UserID),
	}
}

// Handle dispatches one JSON-RPC request and returns the response envelope.
// Notifications perform their effect and return nil.
func (s *ServerInstance) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return NewError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}

	var resp *JSONRPCResponse
	switch req.Method {
	case "initialize":
		resp = NewResult(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": ServerVersion,
			},
		})
	case "tools/list":
		resp = NewResult(req.ID, ListToolsResult{Tools: ToolDescriptors()})
	case "tools/call":
		resp = s.handleToolsCall(ctx, req)
	default:
		resp = NewError(req.ID, JSONRPCMethodNotFound, "method not found: "+req.Method)
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one content block in a tool result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

func (s *ServerInstance) handleToolsCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return NewError(req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	s.logger.Debug("tools/call", "tool", params.Name)

	text, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		var callErr *toolCallError
		if !errors.As(err, &callErr) {
			callErr = &toolCallError{code: JSONRPCInternalError, message: err.Error()}
		}
		s.logger.Debug("tools/call failed", "tool", params.Name, "code", callErr.code, "error", callErr.message)
		return NewError(req.ID, callErr.code, callErr.message)
	}

	return NewResult(req.ID, CallToolResult{
		Content: []ToolContent{{Type: "text", Text: text}},
	})
}
