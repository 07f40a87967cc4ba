// Package main provides the entry point for the mcp-query-gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/txn2/mcp-query-gateway/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "gateway.yaml", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address, overrides the config file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-query-gateway version %s\n", server.Version)
		return nil
	}

	s, err := server.NewWithConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if opts.address != "" {
		s.HTTP.Addr = opts.address
	}

	log := s.Gateway.Logger()
	ctx := setupSignalHandler()
	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway: listening", "address", s.HTTP.Addr)
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = s.Gateway.Close()
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway: shutdown incomplete", "error", err)
	}
	log.Info("gateway: stopped")
	return nil
}
