package httpapi_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-query-gateway/pkg/engine"
	"github.com/txn2/mcp-query-gateway/pkg/httpapi"
	"github.com/txn2/mcp-query-gateway/pkg/session"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
	"github.com/txn2/mcp-query-gateway/pkg/toolkit"
)

const sessionHeader = "Mcp-Session-Id"

type nullEngine struct{}

func (nullEngine) Execute(context.Context, string, ...any) (*engine.Result, error) {
	return &engine.Result{}, nil
}

func (nullEngine) Close() error { return nil }

// newGateway stands up a manager over real dispatchers and the router
// in front of it.
func newGateway(t *testing.T, cfg httpapi.Config) (*httptest.Server, *session.Manager) {
	t.Helper()

	tk, err := toolkit.New(sqlguard.New(&sqlguard.Schema{
		Tables: []sqlguard.Table{{
			Name:    "establishment_stats",
			Columns: []sqlguard.Column{{Name: "area_code", Type: "text"}},
		}},
	}), nullEngine{}, toolkit.Config{
		DrillDown: toolkit.DrillDownConfig{
			Table:        "establishment_stats",
			ParentColumn: "industry_code",
			KeyColumn:    "area_code",
		},
	})
	require.NoError(t, err)

	manager := session.NewManager(session.ManagerConfig{
		MaxSessions: 4,
		Factory: func(id string) (session.Dispatcher, error) {
			return tk.NewDispatcher(id)
		},
	})
	t.Cleanup(manager.Shutdown)

	cfg.Manager = manager
	srv := httptest.NewServer(httpapi.New(cfg))
	t.Cleanup(srv.Close)
	return srv, manager
}

func doRequest(t *testing.T, method, url, sessionID, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize",` +
	`"params":{"protocolVersion":"2025-03-26","capabilities":{},` +
	`"clientInfo":{"name":"raw-test","version":"0"}}}`

func TestHandler_HandshakeMintsSession(t *testing.T) {
	srv, manager := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "", initializeBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(sessionHeader)
	require.NotEmpty(t, id, "handshake response must carry the session ID")

	_, ok := manager.Get(id)
	assert.True(t, ok)
}

func TestHandler_PostWithoutSessionMustBeInitialize(t *testing.T) {
	srv, manager := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "",
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, manager.Len(), "a rejected request must not leak a session")
}

func TestHandler_PostUnknownSession(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "no-such-session",
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_PostGarbageBody(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_HandshakeBodyTooLarge(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "", strings.Repeat("x", 1<<20+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

// brokenBody fails on the first read, like a connection dropped
// mid-request.
type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, errors.New("read: connection reset") }

func TestHandler_HandshakeBodyReadFailure(t *testing.T) {
	manager := session.NewManager(session.ManagerConfig{
		Factory: func(string) (session.Dispatcher, error) { return nil, nil },
	})
	t.Cleanup(manager.Shutdown)
	h := httpapi.New(httpapi.Config{Manager: manager})

	req := httptest.NewRequest(http.MethodPost, "/", brokenBody{})
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code,
		"a failed read is the client's connection, not an oversized body")
}

func TestHandler_DeleteTerminatesOnce(t *testing.T) {
	srv, manager := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPost, srv.URL, "", initializeBody)
	id := resp.Header.Get(sessionHeader)
	require.NotEmpty(t, id)

	resp = doRequest(t, http.MethodDelete, srv.URL, id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, manager.Len())

	resp = doRequest(t, http.MethodDelete, srv.URL, id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "second delete finds nothing")
}

func TestHandler_DeleteRequiresSessionHeader(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodDelete, srv.URL, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GetRequiresSessionAndAccept(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing event-stream accept")

	resp = doRequest(t, http.MethodGet, srv.URL, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing session header")

	resp = doRequest(t, http.MethodGet, srv.URL, "no-such-session", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_StreamClosesOnTermination(t *testing.T) {
	srv, manager := newGateway(t, httpapi.Config{Keepalive: 20 * time.Millisecond})

	resp := doRequest(t, http.MethodPost, srv.URL, "", initializeBody)
	id := resp.Header.Get(sessionHeader)
	require.NotEmpty(t, id)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(sessionHeader, id)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Contains(t, stream.Header.Get("Content-Type"), "text/event-stream")

	// The first keepalive proves the stream is live.
	reader := bufio.NewReader(stream.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, ":"))

	// Terminating the session must end the stream promptly.
	require.True(t, manager.Delete(id))
	deadline := time.After(2 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("stream did not close after session termination")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	resp := doRequest(t, http.MethodPut, srv.URL, "", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "POST")
}

func TestHandler_SessionCap(t *testing.T) {
	srv, _ := newGateway(t, httpapi.Config{})

	for i := 0; i < 4; i++ {
		resp := doRequest(t, http.MethodPost, srv.URL, "", initializeBody)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := doRequest(t, http.MethodPost, srv.URL, "", initializeBody)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestHandler_SDKClientInterop drives the endpoint with the official
// protocol client instead of raw HTTP.
func TestHandler_SDKClientInterop(t *testing.T) {
	srv, manager := newGateway(t, httpapi.Config{})
	ctx := context.Background()

	mcpClient := mcp.NewClient(&mcp.Implementation{Name: "interop-test", Version: "0"}, nil)
	cs, err := mcpClient.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	defer cs.Close()

	require.Equal(t, 1, manager.Len(), "connect performs exactly one handshake")

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_information_schema",
		"validate_sql_query",
		"execute_query",
		"execute_drill_down_query",
		"generate_excel_report",
		"generate_csv_report",
		"generate_pdf_report",
	}, names)

	result, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "validate_sql_query",
		Arguments: map[string]any{"query": "SELECT area_code FROM establishment_stats"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	var verdict sqlguard.Verdict
	require.NoError(t, json.Unmarshal([]byte(text.Text), &verdict))
	assert.True(t, verdict.Valid)
}
