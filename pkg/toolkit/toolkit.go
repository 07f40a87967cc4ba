// Package toolkit implements the tool dispatcher: the fixed catalog of
// data-access tools exposed to one session. Each session gets its own
// Dispatcher wrapping a private MCP server; the validator and query
// engine collaborators are shared, the protocol state is not.
package toolkit

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-query-gateway/pkg/engine"
	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

const (
	defaultQueryLimit    = 1000
	defaultMaxQueryLimit = 10000
	defaultPageSize      = 50
	defaultKeyLength     = 5
	defaultMaxReportRows = 10000
)

// DrillDownConfig describes the bounded drill-down query surface.
type DrillDownConfig struct {
	// Table is the drill-down target table.
	Table string

	// ParentColumn scopes a page to one parent key.
	ParentColumn string

	// KeyColumn is the natural key rows are ordered and resumed by.
	KeyColumn string

	// Columns are the projected columns; empty means all schema columns
	// of Table.
	Columns []string

	// PageSize is the number of rows per page.
	PageSize int

	// KeyLength is the fixed width of the numeric parent key.
	KeyLength int
}

// Config configures a Toolkit.
type Config struct {
	ServerName    string
	Version       string
	DefaultLimit  int
	MaxLimit      int
	MaxReportRows int
	DrillDown     DrillDownConfig
	Logger        *slog.Logger
}

// Toolkit holds the shared collaborators and produces per-session
// dispatchers.
type Toolkit struct {
	validator sqlguard.Validator
	engine    engine.Executor
	cfg       Config
	log       *slog.Logger

	// keyPattern matches the fixed-width numeric parent key.
	keyPattern *regexp.Regexp
}

// New creates a toolkit over the given collaborators.
func New(validator sqlguard.Validator, exec engine.Executor, cfg Config) (*Toolkit, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "mcp-query-gateway"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = defaultQueryLimit
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = defaultMaxQueryLimit
	}
	if cfg.MaxReportRows == 0 {
		cfg.MaxReportRows = defaultMaxReportRows
	}
	if cfg.DrillDown.PageSize == 0 {
		cfg.DrillDown.PageSize = defaultPageSize
	}
	if cfg.DrillDown.KeyLength == 0 {
		cfg.DrillDown.KeyLength = defaultKeyLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	// The policy served by get_information_schema must advertise the
	// row cap this toolkit actually enforces.
	if policy := &validator.Schema().Policy; policy.MaxRows == 0 {
		policy.MaxRows = cfg.MaxLimit
	}
	if len(cfg.DrillDown.Columns) == 0 {
		for _, tbl := range validator.Schema().Tables {
			if tbl.Name == cfg.DrillDown.Table {
				for _, col := range tbl.Columns {
					cfg.DrillDown.Columns = append(cfg.DrillDown.Columns, col.Name)
				}
			}
		}
	}
	return &Toolkit{
		validator:  validator,
		engine:     exec,
		cfg:        cfg,
		log:        cfg.Logger,
		keyPattern: regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, cfg.DrillDown.KeyLength)),
	}, nil
}

// Dispatcher is the per-session protocol server plus its transport
// handle. It is never shared between sessions.
type Dispatcher struct {
	sessionID string
	toolkit   *Toolkit
	server    *mcp.Server
	transport http.Handler

	calls  atomic.Int64
	closed atomic.Bool
}

// NewDispatcher builds a dispatcher scoped to one session: a fresh MCP
// server with the full catalog registered, wrapped in a stateless
// streamable transport. Session identity lives a layer above, so the
// inner transport carries none.
func (t *Toolkit) NewDispatcher(sessionID string) (*Dispatcher, error) {
	d := &Dispatcher{
		sessionID: sessionID,
		toolkit:   t,
	}

	d.server = mcp.NewServer(&mcp.Implementation{
		Name:    t.cfg.ServerName,
		Version: t.cfg.Version,
	}, nil)

	d.registerSchemaTool()
	d.registerQueryTools()
	d.registerDrillDownTool()
	d.registerReportTools()

	d.transport = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return d.server
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	return d, nil
}

// Transport returns the session-private protocol handler.
func (d *Dispatcher) Transport() http.Handler {
	return d.transport
}

// Server returns the underlying MCP server.
func (d *Dispatcher) Server() *mcp.Server {
	return d.server
}

// SessionID returns the owning session's identifier.
func (d *Dispatcher) SessionID() string {
	return d.sessionID
}

// Calls returns the number of tool invocations this dispatcher served.
func (d *Dispatcher) Calls() int64 {
	return d.calls.Load()
}

// Close marks the dispatcher closed. Safe to call more than once.
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.toolkit.log.Debug("dispatcher: closed",
		"session_id", d.sessionID, "calls", d.calls.Load())
	return nil
}
