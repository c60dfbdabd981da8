// Package loader handles configuration file loading, validation, and
// conversion into the component configurations of the daemon.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result
//   - Resolving paths against the data directory
package loader

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/gateway"
	"github.com/xtxerr/nrcsync/internal/journal"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
	"github.com/xtxerr/nrcsync/internal/store"
)

const memoryDSN = ":memory:"

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Missing keys keep their
// defaults, unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		errs.AddField("tls", "cert_file and key_file must be set together")
	}
	for i, t := range cfg.Auth.Tokens {
		if t == "" {
			errs.AddField(fmt.Sprintf("auth.tokens[%d]", i), "cannot be empty")
		}
	}
	if cfg.MaxInFlight < 0 {
		errs.AddField("max_in_flight", "cannot be negative")
	}

	if cfg.DataDir == "" {
		errs.AddField("data_dir", "cannot be empty")
	}
	if cfg.Database.Path == "" {
		errs.AddField("database.path", "cannot be empty")
	}
	if cfg.Database.MaxOpenConns < 0 {
		errs.AddField("database.max_open_conns", "cannot be negative")
	}

	if cfg.Ingest.LockTimeout.Duration() <= 0 {
		errs.AddField("ingest.lock_timeout", "must be positive")
	}
	if cfg.Ingest.MosGrouping.Enabled && cfg.Ingest.MosGrouping.Separator == "" {
		errs.AddField("ingest.mos_grouping.separator", "cannot be empty when grouping is enabled")
	}

	if cfg.Dispatch.Workers < 1 || cfg.Dispatch.Workers > 1024 {
		errs.AddField("dispatch.workers", "must be between 1 and 1024")
	}
	if cfg.Dispatch.QueueSize < 1 {
		errs.AddField("dispatch.queue_size", "must be positive")
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Dir == "" {
			errs.AddField("journal.dir", "cannot be empty when enabled")
		}
		switch cfg.Journal.Compression {
		case "zstd", "snappy", "gzip", "none":
		default:
			errs.AddField("journal.compression", fmt.Sprintf("unknown codec %q", cfg.Journal.Compression))
		}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}
	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		errs.AddField("logging.format", "must be auto, text or json")
	}

	return errs.Err()
}

// =============================================================================
// Conversion
// =============================================================================

// resolve joins a relative path onto the data dir.
func (c *Config) resolve(p string) string {
	if p == memoryDSN || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// StoreConfig converts the database section.
func (c *Config) StoreConfig() store.Config {
	sc := store.DefaultConfig()
	sc.DSN = c.resolve(c.Database.Path)
	if c.Database.MaxOpenConns > 0 {
		sc.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.QueryTimeout > 0 {
		sc.QueryTimeout = c.Database.QueryTimeout.Duration()
	}
	return sc
}

// OrchestratorConfig converts the ingest section. The blueprint is left
// unset.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		LockTimeout:  c.Ingest.LockTimeout.Duration(),
		MosGrouping:  c.Ingest.MosGrouping.Enabled,
		MosSeparator: c.Ingest.MosGrouping.Separator,
	}
}

// DispatchConfig converts the dispatch section.
func (c *Config) DispatchConfig() *dispatch.Config {
	return &dispatch.Config{
		Workers:      c.Dispatch.Workers,
		QueueSize:    c.Dispatch.QueueSize,
		DrainTimeout: c.Dispatch.DrainTimeout.Duration(),
	}
}

// JournalConfig converts the journal section. ok is false when the journal
// is disabled.
func (c *Config) JournalConfig() (cfg journal.Config, ok bool) {
	if !c.Journal.Enabled {
		return journal.Config{}, false
	}
	return journal.Config{
		Dir:           c.resolve(c.Journal.Dir),
		FlushInterval: c.Journal.FlushInterval.Duration(),
		FlushSize:     c.Journal.FlushSize,
		Compression:   journal.ParseCompressionType(c.Journal.Compression),
	}, true
}

// GatewayConfig converts the gateway settings. Stats is filled in by the
// caller.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Listen:         c.Listen,
		TLSCertFile:    c.TLS.CertFile,
		TLSKeyFile:     c.TLS.KeyFile,
		Tokens:         c.Auth.Tokens,
		AuthTimeout:    c.Auth.Timeout.Duration(),
		MaxMessageSize: c.MaxMessageSize.Bytes(),
		MaxInFlight:    int64(c.MaxInFlight),
	}
}

// LockPath is the daemon lock file inside the data dir.
func (c *Config) LockPath(name string) string {
	return filepath.Join(c.DataDir, name)
}
