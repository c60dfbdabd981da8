// Package production is the internal rundown model playout works from.
//
// Ingest only ever touches it through Model.Commit, once per operation,
// with a Directive describing exactly which segments to regenerate,
// rename, move or remove.
package production

import (
	"context"
	"sort"

	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/staging"
)

// Model is the commit surface of the production model.
type Model interface {
	Commit(ctx context.Context, d *Directive) error
}

// Directive is the complete set of changes for one rundown.
type Directive struct {
	RundownExternalID string

	// RemoveRundown deletes the rundown. Without Force an on-air rundown
	// is orphaned instead.
	RemoveRundown bool
	Force         bool

	// Rundown carries the reconciled tree. Only its name, type and payload
	// are read; segments come from ChangedSegments.
	Rundown           *ingest.Rundown
	RegenerateRundown bool

	// ChangedSegments are rebuilt completely, parts included.
	ChangedSegments []*ingest.Segment
	// RemovedSegmentIDs are deleted, or orphaned when on air.
	RemovedSegmentIDs []string
	// RenamedSegments maps old external id to new external id. Renames
	// keep the internal identity and with it any playout state.
	RenamedSegments map[string]string
	// UpdatedRanks moves segments without touching their content.
	UpdatedRanks map[string]float64
}

// RemovalDirective removes a rundown.
func RemovalDirective(rundownID string, force bool) *Directive {
	return &Directive{RundownExternalID: rundownID, RemoveRundown: true, Force: force}
}

// DirectiveFromResult turns a serialized staging result into a directive.
func DirectiveFromResult(res *staging.Result) *Directive {
	c := res.Changes
	d := &Directive{
		RundownExternalID: res.Rundown.ExternalID,
		Rundown:           res.Rundown,
		RegenerateRundown: c.RegenerateRundown,
		ChangedSegments:   c.SegmentsToRegenerate,
		RemovedSegmentIDs: c.SegmentsToRemove,
		RenamedSegments:   c.SegmentExternalIDChanges,
		UpdatedRanks:      c.SegmentsUpdatedRanks,
	}
	return d
}

// IsEmpty reports whether committing d would change nothing.
func (d *Directive) IsEmpty() bool {
	return !d.RemoveRundown &&
		!d.RegenerateRundown &&
		len(d.ChangedSegments) == 0 &&
		len(d.RemovedSegmentIDs) == 0 &&
		len(d.RenamedSegments) == 0 &&
		len(d.UpdatedRanks) == 0
}

// Summary counts the changes, for logs and the journal.
type Summary struct {
	Changed int `json:"changed"`
	Removed int `json:"removed"`
	Renamed int `json:"renamed"`
	Moved   int `json:"moved"`
}

// Summary returns the change counts of d.
func (d *Directive) Summary() Summary {
	return Summary{
		Changed: len(d.ChangedSegments),
		Removed: len(d.RemovedSegmentIDs),
		Renamed: len(d.RenamedSegments),
		Moved:   len(d.UpdatedRanks),
	}
}

func sortedRenames(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
