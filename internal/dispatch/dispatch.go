// Package dispatch runs ingest requests on a bounded worker pool.
//
// Requests are queued and picked up by a fixed number of workers which
// hand them to the orchestrator. The pool does not order requests; two
// requests for the same rundown are serialised by the rundown lock, not
// by the queue.
//
// Key features:
//   - Bounded queue, a full queue rejects with a retriable error
//   - Panic recovery per request
//   - Graceful shutdown with drain timeout
//   - Outcome observers (stats, journal)
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/operations"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
)

var log = logging.Component("dispatch")

// =============================================================================
// Types
// =============================================================================

// Executor runs one request to completion.
type Executor interface {
	Execute(ctx context.Context, req operations.Request) (*orchestrator.Result, error)
}

// Outcome is reported to observers after every executed request.
type Outcome struct {
	Kind               string
	RundownExternalID  string
	PeripheralDeviceID string
	StartedAt          time.Time
	Duration           time.Duration
	// Result is nil when Err is set.
	Result *orchestrator.Result
	Err    error
}

// Observer receives outcomes. Observe is called from worker goroutines and
// must not block for long.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

func (f ObserverFunc) Observe(o Outcome) { f(o) }

type reply struct {
	res *orchestrator.Result
	err error
}

type job struct {
	ctx   context.Context
	req   operations.Request
	reply chan reply
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds dispatcher configuration.
type Config struct {
	// Workers is the number of concurrent operations.
	Workers int

	// QueueSize is the request queue capacity.
	QueueSize int

	// DrainTimeout is how long Stop waits for in-flight operations.
	DrainTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      config.DefaultDispatchWorkers,
		QueueSize:    config.DefaultDispatchQueueSize,
		DrainTimeout: config.DefaultDrainTimeout,
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher queues requests for a worker pool.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	exec      Executor
	observers []Observer

	jobs     chan job
	shutdown chan struct{}
	workers  errgroup.Group

	mu      sync.RWMutex
	started bool
	stopped bool

	workerCount  int
	drainTimeout time.Duration

	// Metrics
	activeWorkers atomic.Int32
	submitted     atomic.Int64
	rejected      atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
}

// New creates a Dispatcher running requests on exec.
func New(cfg *Config, exec Executor, observers ...Observer) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue < 0 {
		queue = 0
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = config.DefaultDrainTimeout
	}

	return &Dispatcher{
		exec:         exec,
		observers:    observers,
		jobs:         make(chan job, queue),
		shutdown:     make(chan struct{}),
		workerCount:  workers,
		drainTimeout: drain,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.workerCount; i++ {
		d.workers.Go(func() error {
			d.worker()
			return nil
		})
	}

	log.Info("dispatcher started", "workers", d.workerCount, "queue_size", cap(d.jobs))
}

// Stop stops accepting requests and waits for in-flight operations, at
// most for the drain timeout.
func (d *Dispatcher) Stop() {
	d.StopWithContext(context.Background())
}

// StopWithContext stops the dispatcher with a custom context.
// The drain timeout from config is still respected as a maximum.
func (d *Dispatcher) StopWithContext(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.shutdown)
	d.mu.Unlock()

	log.Info("dispatcher stopping")

	drainCtx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("dispatcher stopped gracefully")
	case <-drainCtx.Done():
		log.Warn("dispatcher drain timeout", "active_workers", d.activeWorkers.Load())
	}

	// Anything still queued never ran.
	for {
		select {
		case j := <-d.jobs:
			j.reply <- reply{err: errors.ErrClosed}
		default:
			return
		}
	}
}

// =============================================================================
// Submission
// =============================================================================

// Submit validates req, queues it and waits for its result.
//
// A full queue fails immediately with ErrQueueFull. When ctx ends first,
// Submit returns ctx.Err(); an operation that already holds its rundown
// lock still runs to completion.
func (d *Dispatcher) Submit(ctx context.Context, req operations.Request) (*orchestrator.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j := job{ctx: ctx, req: req, reply: make(chan reply, 1)}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return nil, errors.ErrClosed
	}
	select {
	case d.jobs <- j:
		d.submitted.Add(1)
	default:
		d.mu.RUnlock()
		d.rejected.Add(1)
		return nil, fmt.Errorf("%w: %d requests pending", errors.ErrQueueFull, cap(d.jobs))
	}
	d.mu.RUnlock()

	select {
	case r := <-j.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// Worker
// =============================================================================

func (d *Dispatcher) worker() {
	for {
		select {
		case j := <-d.jobs:
			j.reply <- d.executeWithRecovery(j)
		case <-d.shutdown:
			return
		}
	}
}

// executeWithRecovery runs one job, converting a panic into ErrInternal.
func (d *Dispatcher) executeWithRecovery(j job) (r reply) {
	target := j.req.Target()
	start := time.Now()

	d.activeWorkers.Add(1)
	defer func() {
		d.activeWorkers.Add(-1)

		if p := recover(); p != nil {
			log.Error("panic in ingest operation",
				"kind", j.req.Kind(),
				"rundown", target.RundownExternalID,
				"panic", p)
			r = reply{err: fmt.Errorf("%w: panic: %v", errors.ErrInternal, p)}
		}

		if r.err != nil {
			d.failed.Add(1)
		} else {
			d.completed.Add(1)
		}
		d.notify(Outcome{
			Kind:               j.req.Kind(),
			RundownExternalID:  target.RundownExternalID,
			PeripheralDeviceID: target.PeripheralDeviceID,
			StartedAt:          start,
			Duration:           time.Since(start),
			Result:             r.res,
			Err:                r.err,
		})
	}()

	// Abandoned while queued.
	if err := j.ctx.Err(); err != nil {
		return reply{err: err}
	}

	res, err := d.exec.Execute(j.ctx, j.req)
	return reply{res: res, err: err}
}

func (d *Dispatcher) notify(o Outcome) {
	for _, obs := range d.observers {
		obs.Observe(o)
	}
}

// =============================================================================
// Utility Methods
// =============================================================================

// Stats holds dispatcher counters.
type Stats struct {
	QueueUsed int
	QueueSize int
	Active    int
	Submitted int64
	Rejected  int64
	Completed int64
	Failed    int64
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		QueueUsed: len(d.jobs),
		QueueSize: cap(d.jobs),
		Active:    int(d.activeWorkers.Load()),
		Submitted: d.submitted.Load(),
		Rejected:  d.rejected.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}

// ActiveWorkerCount returns the number of currently active workers.
func (d *Dispatcher) ActiveWorkerCount() int {
	return int(d.activeWorkers.Load())
}
