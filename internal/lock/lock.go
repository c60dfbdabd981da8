// Package lock serializes work per rundown.
//
// Every ingest operation runs under the lock of its rundown id. Operations
// on different rundowns never contend; waiters on one rundown are served in
// arrival order.
package lock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/logging"
)

var log = logging.Component("lock")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Keyed hands out one exclusive lock per key. Entries live only while
// someone holds or waits for them.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyed returns an empty lock table.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held, the timeout passes or ctx
// ends. A timeout of zero or less waits as long as ctx allows. On success
// the returned func releases the lock; it is safe to call more than once.
func (k *Keyed) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	e := k.ref(key)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		k.unref(key)
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "lock %q", key)
		}
		log.Warn("lock wait timed out", "rundown", key, "waited", time.Since(start))
		return nil, errors.Wrapf(errors.ErrLockTimeout, "rundown %q after %v", key, timeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.unref(key)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed) ref(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}
