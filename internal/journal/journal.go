// Package journal records the outcome of every ingest operation to
// Parquet files.
//
// Outcomes are buffered in memory and written as one file per flush,
// named journal-<unix ms>-<seq>.parquet. A flush happens on the interval,
// when the buffer reaches the flush size and on Close.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/operations"
)

var log = logging.Component("journal")

// Config configures a Journal.
type Config struct {
	Dir           string
	FlushInterval time.Duration
	FlushSize     int
	Compression   CompressionType
}

// DefaultConfig returns defaults for a journal in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		FlushInterval: config.DefaultJournalFlushInterval,
		FlushSize:     config.DefaultJournalFlushSize,
		Compression:   ParseCompressionType(config.DefaultJournalCompression),
	}
}

// Journal buffers records and flushes them to files.
//
// Journal is safe for concurrent use.
type Journal struct {
	cfg Config

	mu     sync.Mutex
	buf    []Record
	seq    int
	closed bool

	// serialises file writes
	flushMu sync.Mutex

	kick     chan struct{}
	shutdown chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates the directory and returns a journal. Call Start to enable
// interval flushing.
func New(cfg Config) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, errors.NewMissingField("journal.dir")
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = config.DefaultJournalFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultJournalFlushInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{
		cfg:      cfg,
		kick:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start runs the flush loop.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.loop()
	log.Info("journal started", "dir", j.cfg.Dir, "flush_interval", j.cfg.FlushInterval)
}

func (j *Journal) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-j.kick:
		case <-j.shutdown:
			return
		}
		if _, err := j.Flush(); err != nil {
			log.Error("journal flush failed", "error", err)
		}
	}
}

// Append buffers a record. Records appended after Close are dropped.
func (j *Journal) Append(r Record) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.buf = append(j.buf, r)
	full := len(j.buf) >= j.cfg.FlushSize
	j.mu.Unlock()

	if full {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// Observe implements dispatch.Observer.
func (j *Journal) Observe(o dispatch.Outcome) {
	j.Append(FromOutcome(o))
}

// FromOutcome converts a dispatch outcome to a record.
func FromOutcome(o dispatch.Outcome) Record {
	r := Record{
		Kind:               o.Kind,
		RundownExternalID:  o.RundownExternalID,
		PeripheralDeviceID: o.PeripheralDeviceID,
		StartedAtMs:        o.StartedAt.UnixMilli(),
		DurationMs:         float64(o.Duration) / float64(time.Millisecond),
	}
	if o.Err != nil {
		r.ErrorCode = errors.ErrorToCode(o.Err)
		r.Error = o.Err.Error()
	}
	if res := o.Result; res != nil {
		r.OperationID = res.OperationID
		r.Action = res.Action.String()
		r.SegmentsChanged = int32(res.Summary.Changed)
		r.SegmentsRemoved = int32(res.Summary.Removed)
		r.SegmentsRenamed = int32(res.Summary.Renamed)
		r.SegmentsMoved = int32(res.Summary.Moved)
		r.RegenerateRundown = res.RegenerateRundown
		r.RundownRemoved = res.Action == operations.ActionDelete || res.Action == operations.ActionForceDelete
		r.Resynced = res.Resynced
	}
	return r
}

// Pending returns the number of buffered records.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buf)
}

// Flush writes buffered records to a new file and returns its path, or ""
// when nothing was buffered. On failure the records are put back.
func (j *Journal) Flush() (string, error) {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	j.mu.Lock()
	records := j.buf
	j.buf = nil
	j.seq++
	seq := j.seq
	j.mu.Unlock()

	if len(records) == 0 {
		return "", nil
	}

	name := fmt.Sprintf("%s%013d-%06d%s", filePrefix, j.now().UnixMilli(), seq, fileSuffix)
	path := filepath.Join(j.cfg.Dir, name)

	start := time.Now()
	if err := writeFile(path, records, j.cfg.Compression); err != nil {
		j.mu.Lock()
		j.buf = append(records, j.buf...)
		j.mu.Unlock()
		return "", err
	}

	log.Debug("journal flushed",
		"file", name,
		"records", len(records),
		"duration", time.Since(start))
	return path, nil
}

// Close stops the flush loop and writes what is left.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	_, err := j.Flush()
	return err
}

var _ dispatch.Observer = (*Journal)(nil)
