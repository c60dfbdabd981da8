// Package loader - Configuration Types
//
// Defines the YAML configuration structure for nrcsyncd.
//
// ARCHITECTURE:
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      nrcsync.yaml                         │
//	├───────────────────────────────────────────────────────────┤
//	│  listen, tls, auth:  ingest gateway                       │
//	│  data_dir:           database, journal and lock file      │
//	│  database:           DuckDB caches and production model   │
//	│  ingest:             rundown locks, MOS grouping          │
//	│  dispatch:           worker pool and request queue        │
//	│  journal:            parquet operation journal            │
//	│  logging:            level and format                     │
//	└───────────────────────────────────────────────────────────┘
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/nrcsync/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	// Listen is the gateway listen address.
	// Default: "127.0.0.1:10541"
	Listen string `yaml:"listen"`

	// TLS configures transport layer security for the gateway.
	TLS TLSConfig `yaml:"tls"`

	// Auth configures gateway tokens.
	Auth AuthConfig `yaml:"auth"`

	// MaxMessageSize limits a single framed request.
	// Default: 16MB
	MaxMessageSize ByteSize `yaml:"max_message_size"`

	// MaxInFlight bounds concurrent requests per connection.
	// Default: 16
	MaxInFlight int `yaml:"max_in_flight"`

	// DataDir holds the database, the journal and the daemon lock file.
	// Default: "./data"
	DataDir string `yaml:"data_dir"`

	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// =============================================================================
// Gateway
// =============================================================================

// TLSConfig configures transport layer security.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	// Leave empty to disable TLS.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	// Tokens accepted by the gateway. Empty disables authentication.
	// Use environment variables: "${NRCSYNC_TOKEN}"
	Tokens []string `yaml:"tokens"`

	// Timeout is the max time for authentication after connect.
	// Default: 10s
	Timeout Duration `yaml:"timeout"`
}

// =============================================================================
// Storage
// =============================================================================

// DatabaseConfig configures the DuckDB database.
type DatabaseConfig struct {
	// Path is the database file. Relative paths are resolved against
	// data_dir. Special value ":memory:" for an in-memory database.
	// Default: "nrcsync.duckdb"
	Path string `yaml:"path"`

	// QueryTimeout is the default statement timeout.
	// Default: 30s
	QueryTimeout Duration `yaml:"query_timeout"`

	// MaxOpenConns is the max open database connections.
	// Default: 8
	MaxOpenConns int `yaml:"max_open_conns"`
}

// =============================================================================
// Ingest
// =============================================================================

// IngestConfig configures operation processing.
type IngestConfig struct {
	// LockTimeout is how long an operation waits for its rundown.
	// Default: 10s
	LockTimeout Duration `yaml:"lock_timeout"`

	MosGrouping MosGroupingConfig `yaml:"mos_grouping"`
}

// MosGroupingConfig configures grouping of MOS stories into segments.
type MosGroupingConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Separator splits a story name into group prefix and title.
	// Default: ";"
	Separator string `yaml:"separator"`
}

// DispatchConfig configures the worker pool.
type DispatchConfig struct {
	// Workers is the number of concurrent operations.
	// Range: 1-1024, Default: 8
	Workers int `yaml:"workers"`

	// QueueSize is the request queue capacity.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// DrainTimeout is how long shutdown waits for in-flight operations.
	// Default: 30s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// JournalConfig configures the operation journal.
type JournalConfig struct {
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Dir is resolved against data_dir when relative.
	// Default: "journal"
	Dir string `yaml:"dir"`

	// Default: 30s
	FlushInterval Duration `yaml:"flush_interval"`

	// Default: 5000
	FlushSize int `yaml:"flush_size"`

	// Compression is one of zstd, snappy, gzip, none.
	// Default: "zstd"
	Compression string `yaml:"compression"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is text, json or auto. Auto picks text on a terminal.
	// Default: "auto"
	Format string `yaml:"format"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Listen:         config.DefaultListenAddress,
		Auth:           AuthConfig{Timeout: Duration(config.DefaultAuthTimeout)},
		MaxMessageSize: ByteSize(config.DefaultMaxMessageSize),
		MaxInFlight:    config.DefaultMaxInFlight,
		DataDir:        config.DefaultDataDir,
		Database: DatabaseConfig{
			Path:         config.DefaultDatabaseFile,
			QueryTimeout: Duration(config.DefaultQueryTimeout),
			MaxOpenConns: config.DefaultMaxOpenConns,
		},
		Ingest: IngestConfig{
			LockTimeout: Duration(config.DefaultLockTimeout),
			MosGrouping: MosGroupingConfig{
				Enabled:   config.DefaultMosGrouping,
				Separator: config.DefaultMosGroupSeparator,
			},
		},
		Dispatch: DispatchConfig{
			Workers:      config.DefaultDispatchWorkers,
			QueueSize:    config.DefaultDispatchQueueSize,
			DrainTimeout: Duration(config.DefaultDrainTimeout),
		},
		Journal: JournalConfig{
			Enabled:       true,
			Dir:           config.DefaultJournalDir,
			FlushInterval: Duration(config.DefaultJournalFlushInterval),
			FlushSize:     config.DefaultJournalFlushSize,
			Compression:   config.DefaultJournalCompression,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "30s", "5m", "1h" or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ByteSize is a size in bytes that can be unmarshaled from YAML.
// Supports: "16MB", "512KB" or plain bytes.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	size, err := parseByteSize(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(size)
	return nil
}

// parseByteSize parses a size string like "100MB" or "1GB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	// Longest suffixes first so "MB" is not read as "B".
	units := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse byte size %q: %w", s, err)
			}
			return n * u.mult, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size %q: %w", s, err)
	}
	return n, nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}
