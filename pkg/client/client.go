// Package client is a small protocol client for the gateway's
// streamable HTTP endpoint. It handles the handshake, carries the
// session identifier on every subsequent request, and normalizes both
// response encodings the server may choose.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/txn2/mcp-query-gateway/pkg/report"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
	"github.com/txn2/mcp-query-gateway/pkg/toolkit"
)

const (
	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "MCP-Protocol-Version"
)

// Client talks to one gateway endpoint. The zero value is not usable;
// construct with New. A Client is safe for concurrent use and holds at
// most one session at a time.
type Client struct {
	endpoint string
	http     *http.Client
	info     Implementation
	nextID   atomic.Int64

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClientInfo sets the identity announced during the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.info = Implementation{Name: name, Version: version} }
}

// New creates a client for the given endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     http.DefaultClient,
		info:     Implementation{Name: "mcp-query-gateway-client", Version: "dev"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// SessionID returns the current session identifier, or "" before the
// handshake completes.
func (c *Client) SessionID() string {
	id, _ := c.session()
	return id
}

// session snapshots the session identifier and negotiated protocol
// version together under the lock.
func (c *Client) session() (id, protocolVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.protocolVersion
}

// Initialize performs the handshake and captures the session
// identifier the server mints. Calling it on an initialized client is
// a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return nil
	}

	id := c.nextID.Add(1)
	resp, err := c.post(ctx, "", "", &request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params: initializeParams{
			ProtocolVersion: latestProtocolVersion,
			Capabilities:    map[string]any{},
			ClientInfo:      c.info,
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sessionID := resp.Header.Get(sessionIDHeader)
	msg, err := decodeResponse(resp, id)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return &ProtocolError{Status: resp.StatusCode, Code: msg.Error.Code, Message: msg.Error.Message}
	}
	if sessionID == "" {
		return &ProtocolError{Status: resp.StatusCode, Message: "handshake response carried no session ID"}
	}

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return &TransportError{Op: "decode initialize result", Err: err}
	}

	c.sessionID = sessionID
	c.protocolVersion = result.ProtocolVersion

	// The initialized notification completes the handshake. It expects
	// no response body.
	resp, err = c.post(ctx, sessionID, result.ProtocolVersion, &request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	if err != nil {
		c.sessionID = ""
		c.protocolVersion = ""
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// CallTool invokes a named tool, initializing the session first when
// needed. Tool-level failures come back as a *ToolError; protocol and
// transport failures keep their own types.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*ToolResult, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	sessionID, protocolVersion := c.session()
	id := c.nextID.Add(1)
	resp, err := c.post(ctx, sessionID, protocolVersion, &request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params:  callToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		// A vanished session is dropped locally so the next call opens
		// a fresh one.
		if IsInvalidSession(err) {
			c.mu.Lock()
			c.sessionID = ""
			c.protocolVersion = ""
			c.mu.Unlock()
		}
		return nil, err
	}
	defer resp.Body.Close()

	msg, err := decodeResponse(resp, id)
	if err != nil {
		return nil, err
	}
	if msg.Error != nil {
		return nil, &ProtocolError{Status: resp.StatusCode, Code: msg.Error.Code, Message: msg.Error.Message}
	}

	var result ToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return nil, &TransportError{Op: "decode tool result", Err: err}
	}
	if result.IsError {
		return nil, toolError(&result)
	}
	return &result, nil
}

// Disconnect terminates the session on the server. Termination is best
// effort: the server sweeps idle sessions anyway, so delivery failures
// are swallowed. The client is reusable afterwards and will handshake
// again on the next call.
func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.protocolVersion = ""
	c.mu.Unlock()

	if sessionID == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint, nil)
	if err != nil {
		return
	}
	req.Header.Set(sessionIDHeader, sessionID)
	resp, err := c.http.Do(req)
	if err != nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// GetSchema fetches the allow-listed schema.
func (c *Client) GetSchema(ctx context.Context) (*sqlguard.Schema, error) {
	var schema sqlguard.Schema
	if err := c.callInto(ctx, "get_information_schema", nil, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// ValidateQuery validates a query without executing it. An invalid
// query is a successful validation, reported through the verdict.
func (c *Client) ValidateQuery(ctx context.Context, query string) (*sqlguard.Verdict, error) {
	var verdict sqlguard.Verdict
	if err := c.callInto(ctx, "validate_sql_query", map[string]any{"query": query}, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// ExecuteQuery validates then runs a query.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (*toolkit.QueryOutput, error) {
	var out toolkit.QueryOutput
	if err := c.callInto(ctx, "execute_query", map[string]any{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DrillDown fetches one page of detail rows under a parent key. Pass
// cursor "" for the first page; feed metadata.nextCursor back in to
// continue.
func (c *Client) DrillDown(ctx context.Context, parentKey, cursor string) (*toolkit.QueryOutput, error) {
	args := map[string]any{"parentKey": parentKey}
	if cursor != "" {
		args["cursor"] = cursor
	}
	var out toolkit.QueryOutput
	if err := c.callInto(ctx, "execute_drill_down_query", args, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateReport renders tabular data into a document. Tool must be
// one of the generate_*_report tools.
func (c *Client) GenerateReport(ctx context.Context, tool string, req report.Request) (*report.File, error) {
	var file report.File
	if err := c.callInto(ctx, tool, req, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// callInto invokes a tool and decodes the success payload into out.
func (c *Client) callInto(ctx context.Context, name string, args, out any) error {
	result, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	if err := result.Decode(out); err != nil {
		return &TransportError{Op: "decode " + name + " payload", Err: err}
	}
	return nil
}

// post sends one JSON-RPC message and checks the HTTP status. Session
// state is passed in, never read from the struct, so callers decide
// what they lock.
func (c *Client) post(ctx context.Context, sessionID, protocolVersion string, msg *request) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
	if protocolVersion != "" {
		req.Header.Set(protocolVersionHeader, protocolVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST " + c.endpoint, Err: err}
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProtocolError{
			Status:  resp.StatusCode,
			Message: string(bytes.TrimSpace(detail)),
		}
	}
	return resp, nil
}

// toolError converts an error result into a typed ToolError. Results
// that do not carry the failure envelope degrade to an execution
// failure with the raw text.
func toolError(result *ToolResult) *ToolError {
	var envelope struct {
		Error toolkit.Failure `json:"error"`
	}
	text := result.Text()
	if err := json.Unmarshal([]byte(text), &envelope); err != nil || envelope.Error.Kind == "" {
		return &ToolError{Kind: toolkit.KindExecution, Message: text}
	}
	return &ToolError{
		Kind:     envelope.Error.Kind,
		Message:  envelope.Error.Message,
		Problems: envelope.Error.Problems,
	}
}
