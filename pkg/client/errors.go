package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

// TransportError wraps a network or encoding failure below the
// protocol layer. The request may or may not have reached the server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a protocol-level rejection: a non-success HTTP
// status or a JSON-RPC error object.
type ProtocolError struct {
	Status  int
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("protocol: rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("protocol: http %d: %s", e.Status, e.Message)
}

// InvalidSession reports whether the server no longer recognizes the
// session, meaning the caller should re-handshake.
func (e *ProtocolError) InvalidSession() bool {
	return e.Status == http.StatusNotFound
}

// IsInvalidSession reports whether err indicates an expired or
// terminated session.
func IsInvalidSession(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.InvalidSession()
}

// ToolError is a tool-level failure carried inside a successful
// protocol exchange.
type ToolError struct {
	Kind     string
	Message  string
	Problems []sqlguard.Problem
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool: %s: %s", e.Kind, e.Message)
}

// IsValidation reports whether the failure was caught before the
// query reached the database.
func (e *ToolError) IsValidation() bool { return e.Kind == "validation" }

// IsExecution reports whether the failure happened at the database.
func (e *ToolError) IsExecution() bool { return e.Kind == "execution" }
