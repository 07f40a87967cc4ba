package client

import "encoding/json"

// latestProtocolVersion is the protocol revision this client proposes.
const latestProtocolVersion = "2025-03-26"

// request is an outgoing JSON-RPC message. Notifications carry no ID.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// responseMessage is an incoming JSON-RPC message.
type responseMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Implementation identifies a protocol peer.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams is the handshake request payload.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// initializeResult is the handshake response payload.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// callToolParams is the tool invocation payload.
type callToolParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// ContentBlock is one block of tool result content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the normalized result of a tool invocation, identical
// for both response encodings.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text returns the concatenated text content.
func (r *ToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

// Decode unmarshals the text content into v.
func (r *ToolResult) Decode(v any) error {
	return json.Unmarshal([]byte(r.Text()), v)
}
