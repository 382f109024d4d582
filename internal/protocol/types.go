// Package protocol defines the JSON-RPC 2.0 and MCP wire types exchanged
// over stdio and HTTP, plus the mapping from a toolerr.Kind onto a
// JSON-RPC error code.
package protocol

import (
	"encoding/json"

	"github.com/quiltdata/quilt-mcp-server/internal/toolerr"
)

const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes, reserved band from -32000 downward.
const (
	CodeAuthInvalid         = -32000
	CodeAuthNoCredentials   = -32001
	CodePermissionDenied    = -32002
	CodeProtocolMismatch    = -32003
	CodeNotFound            = -32004
	CodeConfigInvalid       = -32005
	CodeTimeout             = -32006
	CodeUpstreamUnavailable = -32007
	CodeConflict            = -32008
	CodeInUse               = -32009
	CodeInternalApp         = -32010
)

// JSONRPCRequest is a single framed request, from either stdio or HTTP.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse mirrors the request id and carries either Result or Error.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// JSONRPCNotification carries no id and expects no response.
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is the JSON-RPC error object. Data.Kind carries the spec's
// stable Kind string so clients never lose it behind the numeric code.
type RPCError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *RPCErrorData `json:"data,omitempty"`
}

type RPCErrorData struct {
	Kind         string   `json:"kind"`
	Retriable    bool     `json:"retriable"`
	FixHint      string   `json:"fix_hint,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// codeForKind maps a toolerr.Kind onto its reserved JSON-RPC code.
func codeForKind(k toolerr.Kind) int {
	switch k {
	case toolerr.KindAuthInvalid:
		return CodeAuthInvalid
	case toolerr.KindAuthNoCredentials:
		return CodeAuthNoCredentials
	case toolerr.KindPermissionDenied:
		return CodePermissionDenied
	case toolerr.KindProtocolMismatch:
		return CodeProtocolMismatch
	case toolerr.KindNotFound:
		return CodeNotFound
	case toolerr.KindConfigInvalid:
		return CodeConfigInvalid
	case toolerr.KindTimeout:
		return CodeTimeout
	case toolerr.KindUpstreamUnavailable:
		return CodeUpstreamUnavailable
	case toolerr.KindConflict:
		return CodeConflict
	case toolerr.KindInUse:
		return CodeInUse
	case toolerr.KindMethodNotFound:
		return MethodNotFound
	case toolerr.KindValidationFailed:
		return InvalidParams
	default:
		return CodeInternalApp
	}
}

// FromToolError converts a *toolerr.Error into a wire-ready *RPCError.
func FromToolError(te *toolerr.Error) *RPCError {
	return &RPCError{
		Code:    codeForKind(te.Kind),
		Message: te.Message,
		Data: &RPCErrorData{
			Kind:         string(te.Kind),
			Retriable:    te.Retriable(),
			FixHint:      te.FixHint,
			Alternatives: te.Alternatives,
		},
	}
}

// MCP application types.

type ClientCapabilities struct {
	Roots    *struct{}   `json:"roots,omitempty"`
	Sampling *struct{}   `json:"sampling,omitempty"`
	Tools    interface{} `json:"tools,omitempty"`
}

type ServerCapabilities struct {
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Logging   *struct{}            `json:"logging,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ServerInfo         `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

type ReadResourceRequest struct {
	URI string `json:"uri"`
}

type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

type PingResult struct {
	Status string `json:"status"`
}
