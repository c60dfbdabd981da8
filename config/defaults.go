// Package config provides configuration defaults for the nrcsync daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default ingest gateway listen address.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:10541"

	// DefaultMaxMessageSize limits a single framed request to prevent OOM.
	// A full MOS rundown with payloads rarely exceeds a few MiB.
	// Override via config: max_message_size
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultDialTimeout is used by nrcsyncctl when connecting to the gateway.
	DefaultDialTimeout = 5 * time.Second

	// DefaultRequestTimeout bounds how long nrcsyncctl waits for a reply.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultAuthTimeout is how long a client has to send its token when
	// the gateway requires one.
	// Override via config: auth_timeout
	DefaultAuthTimeout = 10 * time.Second

	// DefaultAuthFailureLimit blocks an address after this many failed
	// authentications within DefaultAuthFailureWindow.
	DefaultAuthFailureLimit  = 10
	DefaultAuthFailureWindow = time.Minute

	// DefaultMaxInFlight is the number of requests one connection may have
	// outstanding before the gateway stops reading from it.
	// Override via config: max_in_flight
	DefaultMaxInFlight = 16
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir holds the database, the journal and the daemon lock file.
	// Override via config: data_dir
	DefaultDataDir = "./data"

	// DefaultDatabaseFile is the DuckDB file inside the data dir.
	// Override via config: database.path
	DefaultDatabaseFile = "nrcsync.duckdb"

	// DefaultLockFile prevents two daemons from sharing a data dir.
	DefaultLockFile = "nrcsyncd.lock"

	// DefaultQueryTimeout bounds a single cache or production statement.
	// Override via config: database.query_timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultMaxOpenConns is the connection pool size.
	// Override via config: database.max_open_conns
	DefaultMaxOpenConns = 8
)

// =============================================================================
// Ingest Defaults
// =============================================================================

const (
	// DefaultLockTimeout is how long an operation waits for the rundown lock
	// before failing with a retriable error.
	// Override via config: ingest.lock_timeout
	DefaultLockTimeout = 10 * time.Second

	// DefaultMosGrouping enables grouping of MOS stories into segments.
	// Override via config: ingest.mos_grouping.enabled
	DefaultMosGrouping = true

	// DefaultMosGroupSeparator splits a story name into group prefix and title.
	// Override via config: ingest.mos_grouping.separator
	DefaultMosGroupSeparator = ";"
)

// =============================================================================
// Dispatch Defaults
// =============================================================================

const (
	// DefaultDispatchWorkers is the number of operations run concurrently.
	// Operations on one rundown are still serialised by the rundown lock.
	// Override via config: dispatch.workers
	DefaultDispatchWorkers = 8

	// DefaultDispatchQueueSize is the request queue capacity.
	// When full, Submit fails with a retriable error.
	// Override via config: dispatch.queue_size
	DefaultDispatchQueueSize = 1024

	// DefaultDrainTimeout is how long to wait for in-flight operations during shutdown.
	// Override via config: dispatch.drain_timeout
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// Journal Defaults
// =============================================================================

const (
	// DefaultJournalDir is the journal directory inside the data dir.
	// Override via config: journal.dir
	DefaultJournalDir = "journal"

	// DefaultJournalFlushInterval is how often buffered records are written.
	// Override via config: journal.flush_interval
	DefaultJournalFlushInterval = 30 * time.Second

	// DefaultJournalFlushSize forces a flush once this many records are buffered.
	// Override via config: journal.flush_size
	DefaultJournalFlushSize = 5000

	// DefaultJournalCompression is the parquet codec (zstd, snappy, none).
	// Override via config: journal.compression
	DefaultJournalCompression = "zstd"
)

// =============================================================================
// Stats Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the relative accuracy of latency quantiles.
	DefaultSketchAccuracy = 0.01
)
