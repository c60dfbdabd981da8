// Package diff computes structural differences between ingest entities and
// whole ingest trees.
//
// Compare is the generic entity diff with rename detection. Rundowns builds
// a changes.NrcsIngestChangeDetails from two trees on top of it.
package diff

import (
	"log/slog"

	"github.com/xtxerr/nrcsync/internal/logging"
)

var log = logging.Component("diff")

// =============================================================================
// Entity access
// =============================================================================

// Accessor tells Compare how to read an entity type.
type Accessor[T any] struct {
	// ID returns the external id. Required.
	ID func(T) string
	// Name is used for rename pairing.
	Name func(T) string
	// Rank returns the ordering key.
	Rank func(T) float64
	// Modified returns the entity timestamp; zero means unknown.
	Modified func(T) int64
	// Equal compares content, ignoring rank. Required.
	Equal func(a, b T) bool
	// Children returns child external ids used for rename pairing.
	Children func(T) []string
}

// Options tune a Compare call.
type Options struct {
	// Kind names the entity in log lines ("segment", "group").
	Kind string
	// UseModified makes differing timestamps count as a change when both
	// sides carry one.
	UseModified bool
	// Ranks overrides the new side's ranks by external id.
	Ranks map[string]float64
	// DetectRenames pairs removed with added entities.
	DetectRenames bool
	// Logger receives ambiguous pairing warnings.
	Logger *slog.Logger
}

// Pair is one detected rename.
type Pair[T any] struct {
	Old T
	New T
}

// Result is the classification of a Compare call. Entities come from the
// new collection except Removed and Pair.Old.
type Result[T any] struct {
	Added     []T
	Changed   []T
	Removed   []T
	Unchanged []T
	// OnlyRankChanged is the subset of Changed whose content is equal.
	OnlyRankChanged []T
	// ExternalIDChanged maps old id to new id.
	ExternalIDChanged map[string]string
	Renamed           []Pair[T]
}

// IsEmpty reports whether nothing was added, changed, removed or renamed.
func (r *Result[T]) IsEmpty() bool {
	return len(r.Added) == 0 &&
		len(r.Changed) == 0 &&
		len(r.Removed) == 0 &&
		len(r.ExternalIDChanged) == 0
}

// =============================================================================
// Compare
// =============================================================================

// Compare classifies the entities of next against prev.
//
// The algorithm:
//  1. Index prev by external id
//  2. For each next entity:
//     - not in prev: added
//     - timestamps differ (with UseModified), or content differs: changed
//     - only rank differs: changed and onlyRankChanged
//     - otherwise: unchanged
//  3. prev entities not in next are removed, unless paired as a rename:
//     first with an added entity of the same name, else with an added
//     entity sharing a child id. First match wins.
//
// Output order follows the input order, so equal inputs give equal results.
func Compare[T any](prev, next []T, acc Accessor[T], opts Options) *Result[T] {
	res := &Result[T]{ExternalIDChanged: make(map[string]string)}

	prevByID := make(map[string]T, len(prev))
	for _, o := range prev {
		prevByID[acc.ID(o)] = o
	}
	nextIDs := make(map[string]struct{}, len(next))

	for _, n := range next {
		id := acc.ID(n)
		nextIDs[id] = struct{}{}

		o, ok := prevByID[id]
		if !ok {
			res.Added = append(res.Added, n)
			continue
		}

		if opts.UseModified && acc.Modified != nil {
			om, nm := acc.Modified(o), acc.Modified(n)
			if om != 0 && nm != 0 && om != nm {
				res.Changed = append(res.Changed, n)
				continue
			}
		}

		if !acc.Equal(o, n) {
			res.Changed = append(res.Changed, n)
			continue
		}

		if acc.Rank != nil && acc.Rank(o) != rankOf(acc, opts, n) {
			res.Changed = append(res.Changed, n)
			res.OnlyRankChanged = append(res.OnlyRankChanged, n)
			continue
		}

		res.Unchanged = append(res.Unchanged, n)
	}

	var removed []T
	for _, o := range prev {
		if _, ok := nextIDs[acc.ID(o)]; !ok {
			removed = append(removed, o)
		}
	}

	if !opts.DetectRenames || len(removed) == 0 || len(res.Added) == 0 {
		res.Removed = removed
		return res
	}

	logger := opts.Logger
	if logger == nil {
		logger = log
	}
	kind := opts.Kind
	if kind == "" {
		kind = "entity"
	}

	consumed := make([]bool, len(res.Added))
	for _, o := range removed {
		idx, candidates, by := pairCandidate(acc, o, res.Added, consumed)
		if idx < 0 {
			res.Removed = append(res.Removed, o)
			continue
		}
		consumed[idx] = true
		n := res.Added[idx]
		res.ExternalIDChanged[acc.ID(o)] = acc.ID(n)
		res.Renamed = append(res.Renamed, Pair[T]{Old: o, New: n})

		if candidates > 1 {
			logger.Warn("ambiguous rename, first match wins",
				"kind", kind,
				"old_id", acc.ID(o),
				"new_id", acc.ID(n),
				"matched_by", by,
				"candidates", candidates)
		}
	}

	added := res.Added[:0:0]
	for i, n := range res.Added {
		if !consumed[i] {
			added = append(added, n)
		}
	}
	res.Added = added

	return res
}

// pairCandidate finds the first unconsumed added entity matching o by name,
// falling back to a shared child id. It returns the index, how many
// candidates matched on the winning criterion and which criterion that was.
func pairCandidate[T any](acc Accessor[T], o T, added []T, consumed []bool) (int, int, string) {
	if acc.Name != nil {
		name := acc.Name(o)
		first, count := -1, 0
		for i, n := range added {
			if consumed[i] || acc.Name(n) != name {
				continue
			}
			if first < 0 {
				first = i
			}
			count++
		}
		if first >= 0 {
			return first, count, "name"
		}
	}

	if acc.Children != nil {
		oldChildren := make(map[string]struct{})
		for _, c := range acc.Children(o) {
			oldChildren[c] = struct{}{}
		}
		if len(oldChildren) == 0 {
			return -1, 0, ""
		}
		first, count := -1, 0
		for i, n := range added {
			if consumed[i] || !sharesAny(oldChildren, acc.Children(n)) {
				continue
			}
			if first < 0 {
				first = i
			}
			count++
		}
		if first >= 0 {
			return first, count, "shared_child"
		}
	}

	return -1, 0, ""
}

func sharesAny(set map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func rankOf[T any](acc Accessor[T], opts Options, n T) float64 {
	if r, ok := opts.Ranks[acc.ID(n)]; ok {
		return r
	}
	return acc.Rank(n)
}

// OrderChanged reports whether two id sequences differ in length or at
// any position.
func OrderChanged(prev, next []string) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range prev {
		if prev[i] != next[i] {
			return true
		}
	}
	return false
}
