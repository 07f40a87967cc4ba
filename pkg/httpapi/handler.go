// Package httpapi exposes the gateway's single protocol endpoint. Three
// HTTP verbs map onto three protocol operations: POST opens or continues
// a session, GET opens the server-push stream, DELETE terminates. Every
// request except the handshake must resolve to a live session before it
// is served.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/txn2/mcp-query-gateway/pkg/session"
)

const (
	// sessionIDHeader is the MCP session header name.
	sessionIDHeader = "Mcp-Session-Id"

	// maxHandshakeBody bounds the bytes sniffed to detect a handshake.
	maxHandshakeBody = 1 << 20

	// defaultKeepalive is the idle comment interval on the GET stream.
	defaultKeepalive = 30 * time.Second

	slogKeyError = "error"
)

// Config configures a Handler.
type Config struct {
	Manager   *session.Manager
	Keepalive time.Duration
	Logger    *slog.Logger
}

// Handler is the transport router.
type Handler struct {
	manager   *session.Manager
	keepalive time.Duration
	log       *slog.Logger
}

// New creates the router over a session manager.
func New(cfg Config) *Handler {
	if cfg.Keepalive == 0 {
		cfg.Keepalive = defaultKeepalive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		manager:   cfg.Manager,
		keepalive: cfg.Keepalive,
		log:       cfg.Logger,
	}
}

// ServeHTTP dispatches by verb.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodDelete:
		h.handleTerminate(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
	}
}

// handlePost forwards to an existing session, or performs the handshake
// when no session identifier is present and the payload is an initialize
// request. Anything else is the client's fault.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(sessionIDHeader); id != "" {
		sess, ok := h.manager.Get(id)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sess.Transport().ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHandshakeBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if !isInitialize(body) {
		http.Error(w, "a request without a session ID must be an initialize request", http.StatusBadRequest)
		return
	}

	sess, err := h.manager.Create(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrMaxSessions), errors.Is(err, session.ErrShuttingDown):
			http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		default:
			h.log.Error("httpapi: session create failed", slogKeyError, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	sw := &sessionIDWriter{ResponseWriter: w, sessionID: sess.ID}
	r.Header.Set(sessionIDHeader, sess.ID)
	sess.Transport().ServeHTTP(sw, r)
}

// handleStream opens the long-lived server-push channel for one
// session. All failures are reported before any streaming headers.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		http.Error(w, "Accept must contain 'text/event-stream' for GET requests", http.StatusBadRequest)
		return
	}

	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		http.Error(w, "GET requires an Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	sess, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(sessionIDHeader, sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	// Held open until the client goes away or the session is deleted.
	// Other sessions are unaffected: this blocks only its own goroutine.
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleTerminate deletes the session. Deleting twice is not an error:
// the second call simply finds nothing.
func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		http.Error(w, "DELETE requires an Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	if !h.manager.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jsonrpcProbe is the minimal shape needed to recognize a handshake.
type jsonrpcProbe struct {
	Method string `json:"method"`
}

// isInitialize reports whether the body is an initialize request,
// accepting both a single message and a batch.
func isInitialize(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '[' {
		var batch []jsonrpcProbe
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return false
		}
		for _, msg := range batch {
			if msg.Method == "initialize" {
				return true
			}
		}
		return false
	}
	var msg jsonrpcProbe
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return false
	}
	return msg.Method == "initialize"
}

// acceptsEventStream reports whether any Accept header value allows
// text/event-stream.
func acceptsEventStream(r *http.Request) bool {
	accept := strings.Split(strings.Join(r.Header.Values("Accept"), ","), ",")
	for _, c := range accept {
		c = strings.TrimSpace(c)
		if strings.HasPrefix(c, "text/event-stream") || strings.HasPrefix(c, "*/*") {
			return true
		}
	}
	return false
}

// sessionIDWriter injects the minted session identifier before the
// first write so the handshake response carries it.
type sessionIDWriter struct {
	http.ResponseWriter
	sessionID     string
	headerWritten bool
}

// WriteHeader injects the session ID header before delegating.
func (w *sessionIDWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.ResponseWriter.Header().Set(sessionIDHeader, w.sessionID)
		w.headerWritten = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *sessionIDWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.ResponseWriter.Header().Set(sessionIDHeader, w.sessionID)
		w.headerWritten = true
	}
	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("writing response: %w", err)
	}
	return n, nil
}

// Flush implements http.Flusher for SSE responses.
func (w *sessionIDWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
