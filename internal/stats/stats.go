// Package stats keeps running latency statistics per operation kind.
//
// Every finished operation adds one sample to the aggregate of its kind.
// Quantiles come from a DDSketch, so memory stays bounded no matter how
// many operations were observed.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/errors"
)

// KindStats is the aggregate of one operation kind. Latencies are in
// milliseconds.
type KindStats struct {
	Kind      string  `json:"kind"`
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors"`
	Retriable int64   `json:"retriable"`
	Resynced  int64   `json:"resynced"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	P50       float64 `json:"p50"`
	P90       float64 `json:"p90"`
	P99       float64 `json:"p99"`
}

// aggregate maintains running statistics for one kind.
type aggregate struct {
	count     int64
	errors    int64
	retriable int64
	resynced  int64
	sum       float64
	min       float64
	max       float64

	// nil when the sketch could not be created
	sketch *ddsketch.DDSketch
}

func newAggregate(accuracy float64) *aggregate {
	a := &aggregate{min: math.MaxFloat64, max: -math.MaxFloat64}
	if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		a.sketch = sketch
	}
	return a
}

func (a *aggregate) add(ms float64) {
	a.count++
	a.sum += ms
	if ms < a.min {
		a.min = ms
	}
	if ms > a.max {
		a.max = ms
	}
	if a.sketch != nil {
		_ = a.sketch.Add(ms)
	}
}

func (a *aggregate) result(kind string) KindStats {
	s := KindStats{
		Kind:      kind,
		Count:     a.count,
		Errors:    a.errors,
		Retriable: a.retriable,
		Resynced:  a.resynced,
	}
	if a.count == 0 {
		return s
	}
	s.Avg = a.sum / float64(a.count)
	s.Min = a.min
	s.Max = a.max
	if a.sketch != nil {
		s.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		s.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}
	return s
}

// Collector aggregates operation outcomes by kind.
//
// Collector is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	accuracy float64
	kinds    map[string]*aggregate
	since    time.Time
}

// NewCollector returns an empty collector. A non-positive accuracy uses
// the default.
func NewCollector(accuracy float64) *Collector {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = config.DefaultSketchAccuracy
	}
	return &Collector{
		accuracy: accuracy,
		kinds:    make(map[string]*aggregate),
		since:    time.Now(),
	}
}

// Add records one operation of kind.
func (c *Collector) Add(kind string, d time.Duration, err error, resynced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.kinds[kind]
	if a == nil {
		a = newAggregate(c.accuracy)
		c.kinds[kind] = a
	}
	a.add(float64(d) / float64(time.Millisecond))
	if err != nil {
		a.errors++
		if errors.IsRetriable(err) {
			a.retriable++
		}
	}
	if resynced {
		a.resynced++
	}
}

// Observe implements dispatch.Observer.
func (c *Collector) Observe(o dispatch.Outcome) {
	c.Add(o.Kind, o.Duration, o.Err, o.Result != nil && o.Result.Resynced)
}

// Snapshot returns the aggregates sorted by kind.
func (c *Collector) Snapshot() []KindStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]KindStats, 0, len(c.kinds))
	for kind, a := range c.kinds {
		out = append(out, a.result(kind))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Since returns when collection started or was last reset.
func (c *Collector) Since() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

// Reset drops every aggregate.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = make(map[string]*aggregate)
	c.since = time.Now()
}

var _ dispatch.Observer = (*Collector)(nil)
