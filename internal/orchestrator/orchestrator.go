// Package orchestrator runs ingest operations end to end.
//
// One operation holds the rundown lock for its whole lifetime. Inside it
// loads the NRCS cache, runs the update function, starts flushing the
// NRCS cache, reconciles the Sofie side staging model, commits the result
// to the production model and finally saves the Sofie cache. The NRCS
// flush is always awaited before Run returns, whatever failed.
//
// The two caches and the production model are not committed atomically.
// A failure after the NRCS flush leaves the NRCS cache ahead; the Sofie
// cache remembers which NRCS revision it reflects, and the next operation
// on the rundown regenerates it when the revisions disagree.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/lock"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/mosgroup"
	"github.com/xtxerr/nrcsync/internal/operations"
	"github.com/xtxerr/nrcsync/internal/production"
	"github.com/xtxerr/nrcsync/internal/reconcile"
	"github.com/xtxerr/nrcsync/internal/staging"
)

var log = logging.Component("orchestrator")

// Blueprint is the customization hook. It may mutate rd in any way,
// including ignoring details and forcing a full regenerate.
type Blueprint interface {
	ProcessIngestData(ctx context.Context, rd *staging.Rundown, nrcs *ingest.Rundown, details *changes.NrcsIngestChangeDetails) error
}

// BlueprintFunc adapts a function to Blueprint.
type BlueprintFunc func(ctx context.Context, rd *staging.Rundown, nrcs *ingest.Rundown, details *changes.NrcsIngestChangeDetails) error

func (f BlueprintFunc) ProcessIngestData(ctx context.Context, rd *staging.Rundown, nrcs *ingest.Rundown, details *changes.NrcsIngestChangeDetails) error {
	return f(ctx, rd, nrcs, details)
}

// Config configures an Orchestrator.
type Config struct {
	// LockTimeout bounds the wait for the rundown lock.
	LockTimeout time.Duration
	// MosGrouping groups MOS stories into segments.
	MosGrouping  bool
	MosSeparator string
	// Blueprint replaces the default reconciliation when set.
	Blueprint Blueprint
}

// DefaultConfig returns the defaults from the config package.
func DefaultConfig() Config {
	return Config{
		LockTimeout:  config.DefaultLockTimeout,
		MosGrouping:  config.DefaultMosGrouping,
		MosSeparator: config.DefaultMosGroupSeparator,
	}
}

// Result describes a finished operation.
type Result struct {
	OperationID       string
	RundownExternalID string
	Action            operations.Action
	// Changes is the NRCS side change description that was applied.
	Changes *changes.NrcsIngestChangeDetails
	// Summary counts what was committed to the production model.
	Summary           production.Summary
	RegenerateRundown bool
	// Resynced is set when diverged caches forced a full regenerate.
	Resynced bool
	Duration time.Duration
}

// Orchestrator runs ingest operations.
//
// Orchestrator is safe for concurrent use. Operations on one rundown are
// serialised, operations on different rundowns run in parallel.
type Orchestrator struct {
	rows        cache.RowStore
	model       production.Model
	locks       *lock.Keyed
	grouper     *mosgroup.Grouper
	blueprint   Blueprint
	lockTimeout time.Duration
	now         func() time.Time
}

// New creates an Orchestrator over the cache row store and the production
// model.
func New(rows cache.RowStore, model production.Model, cfg Config) *Orchestrator {
	o := &Orchestrator{
		rows:        rows,
		model:       model,
		locks:       lock.NewKeyed(),
		blueprint:   cfg.Blueprint,
		lockTimeout: cfg.LockTimeout,
		now:         time.Now,
	}
	if o.lockTimeout <= 0 {
		o.lockTimeout = config.DefaultLockTimeout
	}
	if cfg.MosGrouping {
		o.grouper = mosgroup.New(cfg.MosSeparator)
	}
	return o
}

// SetClock replaces the timestamp source, for tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Execute runs a decoded request.
func (o *Orchestrator) Execute(ctx context.Context, req operations.Request) (*Result, error) {
	target := req.Target()
	if target.PeripheralDeviceID != "" {
		ctx = logging.ContextWithDevice(ctx, target.PeripheralDeviceID)
	}
	return o.Run(ctx, target.RundownExternalID, operations.Func(req))
}

// Run executes fn against the rundown under its lock.
func (o *Orchestrator) Run(ctx context.Context, rundownID string, fn operations.UpdateFunc) (res *Result, err error) {
	if rundownID == "" {
		return nil, errors.NewMissingField("rundownExternalId")
	}

	start := o.now()
	opID := logging.OperationFromContext(ctx)
	if opID == "" {
		opID = uuid.NewString()
		ctx = logging.ContextWithOperation(ctx, opID)
	}
	ctx = logging.ContextWithRundown(ctx, rundownID)
	l := logging.WithContext(ctx, log)

	release, err := o.locks.Acquire(ctx, rundownID, o.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	// Once the lock is held the operation runs to completion.
	ctx = context.WithoutCancel(ctx)

	// Background cache flushes; always awaited before returning.
	var flushes errgroup.Group
	defer func() {
		if ferr := flushes.Wait(); ferr != nil {
			l.Error("nrcs cache flush failed", "error", ferr)
			if err == nil {
				res, err = nil, ferr
			}
		}
	}()

	op := &operation{
		Orchestrator: o,
		ctx:          ctx,
		rundownID:    rundownID,
		flushes:      &flushes,
		res:          &Result{OperationID: opID, RundownExternalID: rundownID},
	}
	if err := op.run(fn); err != nil {
		l.Warn("ingest operation failed",
			"error", err,
			"duration", o.now().Sub(start))
		return nil, err
	}

	op.res.Duration = o.now().Sub(start)
	l.Info("ingest operation complete",
		"action", op.res.Action.String(),
		"duration", op.res.Duration,
		"regenerate_rundown", op.res.RegenerateRundown,
		"changed", op.res.Summary.Changed,
		"removed", op.res.Summary.Removed,
		"renamed", op.res.Summary.Renamed,
		"moved", op.res.Summary.Moved,
		"resynced", op.res.Resynced)
	return op.res, nil
}

// operation is the state of one Run.
type operation struct {
	*Orchestrator
	ctx       context.Context
	rundownID string
	flushes   *errgroup.Group
	res       *Result
}

func (op *operation) run(fn operations.UpdateFunc) error {
	nrcs, err := cache.LoadNrcs(op.ctx, op.rows, op.rundownID)
	if err != nil {
		return err
	}
	nrcs.SetClock(op.now)

	prev, err := nrcs.Fetch()
	if err != nil {
		return err
	}
	prevRevision := diff.TreeRevision(prev)

	upd, err := fn(prev.Clone())
	if err != nil {
		return err
	}
	if upd == nil {
		return errors.Wrap(errors.ErrInternal, "update function returned nothing")
	}
	op.res.Action = upd.Action

	switch upd.Action {
	case operations.ActionDelete, operations.ActionForceDelete:
		return op.remove(nrcs, upd.Action == operations.ActionForceDelete)
	case operations.ActionUpdate:
	default:
		return errors.NewValidation("action", upd.Action.String())
	}

	next := upd.Rundown
	if next == nil {
		return errors.NewMissingField("rundown")
	}
	if next.ExternalID == "" {
		next.ExternalID = op.rundownID
	}
	next.StripModified()

	if err := nrcs.Update(next); err != nil {
		return err
	}
	nextRevision, err := nrcs.Revision()
	if err != nil {
		return err
	}
	op.flushes.Go(func() error { return nrcs.SaveToDatabase(op.ctx) })

	nrcsTree, details := next, upd.Changes
	if next.IsMOS() && op.grouper != nil {
		nrcsTree, details = op.grouper.Apply(prev, next, details)
	} else if details == nil {
		details = diff.Rundowns(prev, next, diff.TreeOptions{})
	}
	if err := details.Validate(); err != nil {
		return err
	}
	return op.reconcile(nrcsTree, details, prevRevision, nextRevision)
}

// reconcile applies details to the Sofie side and commits.
func (op *operation) reconcile(nrcsTree *ingest.Rundown, details *changes.NrcsIngestChangeDetails, prevRevision, nextRevision uint64) error {
	sofie, err := cache.LoadSofie(op.ctx, op.rows, op.rundownID)
	if err != nil {
		return err
	}
	local, err := sofie.FetchLocal()
	if err != nil {
		return err
	}
	sourceRevision, err := sofie.SourceRevision()
	if err != nil {
		return err
	}

	if sourceRevision != prevRevision && details.RundownChanges != changes.RundownRegenerate {
		logging.WithContext(op.ctx, log).Warn("caches diverged, regenerating rundown",
			"source_revision", sourceRevision,
			"nrcs_revision", prevRevision)
		details = changes.Regenerate()
		op.res.Resynced = true
	}
	op.res.Changes = details

	clean := local != nil
	if local == nil {
		local = &ingest.Rundown{ExternalID: op.rundownID, Name: nrcsTree.Name, Type: nrcsTree.Type}
	}
	rd := staging.New(local, clean)
	rd.SetClock(op.now)

	if op.blueprint != nil {
		if err := op.blueprint.ProcessIngestData(op.ctx, rd, nrcsTree, details); err != nil {
			return errors.WrapBlueprint(err)
		}
	} else if err := reconcile.Apply(rd, nrcsTree, details); err != nil {
		return err
	}

	result, err := rd.IntoIngestRundown(sofie.Generator())
	if err != nil {
		return err
	}
	logging.WithContext(op.ctx, log).Debug("staging serialized",
		"changed_rows", len(result.ChangedRows),
		"segments_cleared", result.Changes.SegmentsCleared)

	directive := production.DirectiveFromResult(result)
	if err := op.model.Commit(op.ctx, directive); err != nil {
		return err
	}
	op.res.Summary = directive.Summary()
	op.res.RegenerateRundown = directive.RegenerateRundown

	sofie.ReplaceRows(result.ChangedRows)
	sofie.RemoveAllOther(result.AllRowIDs)
	if err := sofie.SetSourceRevision(nextRevision, op.now().UnixMilli()); err != nil {
		return err
	}
	return sofie.SaveToDatabase(op.ctx)
}

// remove deletes the rundown from both caches and the production model.
func (op *operation) remove(nrcs *cache.NrcsCache, force bool) error {
	nrcs.Delete()
	op.flushes.Go(func() error { return nrcs.SaveToDatabase(op.ctx) })

	sofie, err := cache.LoadSofie(op.ctx, op.rows, op.rundownID)
	if err != nil {
		return err
	}
	if err := op.model.Commit(op.ctx, production.RemovalDirective(op.rundownID, force)); err != nil {
		return err
	}
	sofie.Delete()
	return sofie.SaveToDatabase(op.ctx)
}
