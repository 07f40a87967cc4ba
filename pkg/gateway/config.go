package gateway

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-query-gateway/pkg/sqlguard"
)

// Config holds the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	Query     QueryConfig     `yaml:"query"`
	DrillDown DrillDownConfig `yaml:"drilldown"`
	Schema    sqlguard.Schema `yaml:"schema"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP server and server identity.
type ServerConfig struct {
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxSessions   int           `yaml:"max_sessions"`
	Keepalive     time.Duration `yaml:"keepalive"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// QueryConfig configures query result limits.
type QueryConfig struct {
	DefaultLimit  int `yaml:"default_limit"`
	MaxLimit      int `yaml:"max_limit"`
	MaxReportRows int `yaml:"max_report_rows"`
}

// DrillDownConfig configures the bounded drill-down query.
type DrillDownConfig struct {
	Table        string   `yaml:"table"`
	ParentColumn string   `yaml:"parent_column"`
	KeyColumn    string   `yaml:"key_column"`
	Columns      []string `yaml:"columns"`
	PageSize     int      `yaml:"page_size"`
	KeyLength    int      `yaml:"key_length"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "text"
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes, expanding ${VAR}
// environment references and applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "mcp-query-gateway"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 5 * time.Minute
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 128
	}
	if cfg.Session.Keepalive == 0 {
		cfg.Session.Keepalive = 30 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 30 * time.Second
	}
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = 1000
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = 10000
	}
	if cfg.Query.MaxReportRows == 0 {
		cfg.Query.MaxReportRows = 10000
	}
	if cfg.DrillDown.PageSize == 0 {
		cfg.DrillDown.PageSize = 50
	}
	if cfg.DrillDown.KeyLength == 0 {
		cfg.DrillDown.KeyLength = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if len(c.Schema.Tables) == 0 {
		errs = append(errs, "schema.tables must list at least one table")
	}
	if c.DrillDown.Table == "" {
		errs = append(errs, "drilldown.table is required")
	}
	if c.DrillDown.ParentColumn == "" {
		errs = append(errs, "drilldown.parent_column is required")
	}
	if c.DrillDown.KeyColumn == "" {
		errs = append(errs, "drilldown.key_column is required")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.cert_file and key_file are required when TLS is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
