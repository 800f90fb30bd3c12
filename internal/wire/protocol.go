// Package wire defines the JSON-RPC envelope, service descriptor format,
// and broadcast event schema shared between the session router, the
// service container, and the presentation-facing websocket adapter. It is
// the single vocabulary so those packages don't each redeclare the wire
// shapes, grounded on the teacher's internal/mcp/types.go.
package wire

import "encoding/json"

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Tool-protocol specific error codes.
const (
	ErrCodeUnknownTool       = -32001
	ErrCodeUnknownAction     = -32002
	ErrCodeServiceUnavailable = -32003
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientInfo identifies the toolmesh router to a tool server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies a tool server, returned from its initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the capability advertisement sent with initialize.
type ClientCapabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
	Prompts   *struct{} `json:"prompts,omitempty"`
}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// InitializeResult is the payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ProtocolVersion is the toolmesh JSON-RPC protocol version advertised at handshake.
const ProtocolVersion = "2025-03-01"

// CallToolParams holds parameters for a tools/call request. Name and Action
// are both canonical at this point; Arguments is left as a raw JSON value
// since type enforcement is delegated to the tool server (spec.md §4.A).
type CallToolParams struct {
	Name      string          `json:"name"`
	Action    string          `json:"action"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult holds the result of a tools/call invocation.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsDone  *bool               `json:"is_done,omitempty"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds one piece of content from a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolsListResult is the result of a tools/list request.
type ToolsListResult struct {
	Tools []ToolDescriptorWire `json:"tools"`
}

// ToolDescriptorWire is a tool capability as advertised over the wire by a
// tool server (distinct from identity.ToolDescriptor, which is the
// registry's canonicalized, presentation-ordered view).
type ToolDescriptorWire struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
