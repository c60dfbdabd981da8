package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/dispatch"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
)

func TestCollectorEmpty(t *testing.T) {
	c := NewCollector(0)
	assert.Empty(t, c.Snapshot())
}

func TestCollectorAggregatesPerKind(t *testing.T) {
	c := NewCollector(0.01)
	for i := 1; i <= 100; i++ {
		c.Add("updateRundown", time.Duration(i)*time.Millisecond, nil, false)
	}
	c.Add("removeRundown", 5*time.Millisecond, errors.ErrLockTimeout, false)
	c.Add("removeRundown", 7*time.Millisecond, errors.NewNotFound("rundown", "rd0"), false)

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "removeRundown", snap[0].Kind)
	assert.Equal(t, "updateRundown", snap[1].Kind)

	rm := snap[0]
	assert.EqualValues(t, 2, rm.Count)
	assert.EqualValues(t, 2, rm.Errors)
	assert.EqualValues(t, 1, rm.Retriable)
	assert.InDelta(t, 6, rm.Avg, 0.001)

	up := snap[1]
	assert.EqualValues(t, 100, up.Count)
	assert.Zero(t, up.Errors)
	assert.InDelta(t, 1, up.Min, 0.001)
	assert.InDelta(t, 100, up.Max, 0.001)
	assert.InDelta(t, 50, up.P50, 2)
	assert.InDelta(t, 90, up.P90, 2)
	assert.InDelta(t, 99, up.P99, 2)
}

func TestCollectorObserve(t *testing.T) {
	c := NewCollector(0)
	c.Observe(dispatch.Outcome{
		Kind:     "mosRundown",
		Duration: 3 * time.Millisecond,
		Result:   &orchestrator.Result{Resynced: true},
	})
	c.Observe(dispatch.Outcome{Kind: "mosRundown", Duration: time.Millisecond, Err: fmt.Errorf("x: %w", errors.ErrBlueprint)})

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.EqualValues(t, 2, snap[0].Count)
	assert.EqualValues(t, 1, snap[0].Errors)
	assert.EqualValues(t, 0, snap[0].Retriable)
	assert.EqualValues(t, 1, snap[0].Resynced)
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(0)
	before := c.Since()
	c.Add("updatePart", time.Millisecond, nil, false)

	time.Sleep(time.Millisecond)
	c.Reset()
	assert.Empty(t, c.Snapshot())
	assert.True(t, c.Since().After(before))
}
