// Package server builds the HTTP server hosting the gateway endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/txn2/mcp-query-gateway/pkg/gateway"
	"github.com/txn2/mcp-query-gateway/pkg/health"
)

// Version is set at build time.
var Version = "dev"

// Server couples the HTTP listener with the gateway behind it.
type Server struct {
	HTTP    *http.Server
	Gateway *gateway.Gateway
	Checker *health.Checker

	tls gateway.TLSConfig
}

// NewWithConfig builds the gateway and its HTTP server from a config
// file.
func NewWithConfig(configPath string) (*Server, error) {
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Version == "" || cfg.Server.Version == "1.0.0" {
		cfg.Server.Version = Version
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithGateway(cfg, gw), nil
}

// NewWithGateway wraps an existing gateway in an HTTP server.
func NewWithGateway(cfg *gateway.Config, gw *gateway.Gateway) *Server {
	checker := health.NewChecker(health.Config{
		Sessions: gw.Manager(),
		Probe:    gw.Ping,
	})
	checker.SetReady()

	mux := http.NewServeMux()
	mux.Handle("/mcp", gw.Handler())
	mux.HandleFunc("/healthz", checker.Liveness())
	mux.HandleFunc("/readyz", checker.Readiness())

	return &Server{
		HTTP: &http.Server{
			Addr:    cfg.Server.Address,
			Handler: mux,

			// No global write timeout: the GET stream is long-lived.
			ReadHeaderTimeout: 10 * time.Second,
		},
		Gateway: gw,
		Checker: checker,
		tls:     cfg.Server.TLS,
	}
}

// ListenAndServe serves until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	if s.tls.Enabled {
		return s.HTTP.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
	}
	return s.HTTP.ListenAndServe()
}

// Shutdown drains the listener while tearing the gateway down. Session
// teardown must run alongside the drain: deleting the sessions is what
// ends the open streams the drain is waiting on.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Checker.SetDraining()

	closed := make(chan error, 1)
	go func() { closed <- s.Gateway.Close() }()

	err := s.HTTP.Shutdown(ctx)
	if closeErr := <-closed; err == nil {
		err = closeErr
	}
	return err
}
