// Package gateway assembles the serving stack: validator, query
// engine, per-session toolkits, the session manager, and the HTTP
// router, all from one configuration.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/txn2/mcp-query-gateway/pkg/engine"
	"github.com/txn2/mcp-query-gateway/pkg/httpapi"
	"github.com/txn2/mcp-query-gateway/pkg/session"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
	"github.com/txn2/mcp-query-gateway/pkg/toolkit"
)

// Gateway is the assembled serving stack.
type Gateway struct {
	cfg     *Config
	log     *slog.Logger
	exec    engine.Executor
	manager *session.Manager
	handler http.Handler
}

// New builds a gateway from configuration, opening the database
// connection pool.
func New(cfg *Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exec, err := engine.NewPostgres(cfg.Database.DSN, engine.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening query engine: %w", err)
	}
	return NewWithEngine(cfg, exec)
}

// NewWithEngine builds a gateway over an existing query engine. The
// gateway takes ownership and closes it on Close.
func NewWithEngine(cfg *Config, exec engine.Executor) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := newLogger(cfg.Logging)

	tk, err := toolkit.New(sqlguard.New(&cfg.Schema), exec, toolkit.Config{
		ServerName:    cfg.Server.Name,
		Version:       cfg.Server.Version,
		DefaultLimit:  cfg.Query.DefaultLimit,
		MaxLimit:      cfg.Query.MaxLimit,
		MaxReportRows: cfg.Query.MaxReportRows,
		DrillDown: toolkit.DrillDownConfig{
			Table:        cfg.DrillDown.Table,
			ParentColumn: cfg.DrillDown.ParentColumn,
			KeyColumn:    cfg.DrillDown.KeyColumn,
			Columns:      cfg.DrillDown.Columns,
			PageSize:     cfg.DrillDown.PageSize,
			KeyLength:    cfg.DrillDown.KeyLength,
		},
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("building toolkit: %w", err)
	}

	manager := session.NewManager(session.ManagerConfig{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
		MaxSessions:   cfg.Session.MaxSessions,
		Logger:        log,
		Factory: func(id string) (session.Dispatcher, error) {
			return tk.NewDispatcher(id)
		},
	})
	manager.Start()

	return &Gateway{
		cfg:     cfg,
		log:     log,
		exec:    exec,
		manager: manager,
		handler: httpapi.New(httpapi.Config{
			Manager:   manager,
			Keepalive: cfg.Session.Keepalive,
			Logger:    log,
		}),
	}, nil
}

// Handler returns the protocol endpoint handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Manager returns the session manager.
func (g *Gateway) Manager() *session.Manager { return g.manager }

// Logger returns the gateway's logger.
func (g *Gateway) Logger() *slog.Logger { return g.log }

// Ping verifies the query engine can reach the database.
func (g *Gateway) Ping(ctx context.Context) error {
	if _, err := g.exec.Execute(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Close shuts the gateway down: live sessions first, then the engine
// they were querying through.
func (g *Gateway) Close() error {
	g.manager.Shutdown()
	if err := g.exec.Close(); err != nil {
		return fmt.Errorf("closing query engine: %w", err)
	}
	return nil
}

// newLogger builds a slog logger from logging config.
func newLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
