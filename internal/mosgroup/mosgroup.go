// Package mosgroup turns the flat story list of a MOS rundown into grouped
// segments and recomputes the change description in grouped terms.
//
// In the NRCS cache a MOS rundown is stored flat: one segment per story,
// each holding a single part for the story itself. Consecutive stories
// whose names share the prefix before the separator form one group
// segment whose parts are the stories' parts.
package mosgroup

import (
	"strings"

	"github.com/google/uuid"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/logging"
)

var log = logging.Component("mosgroup")

// groupNamespace seeds the name-based UUIDs used as group external ids.
var groupNamespace = uuid.MustParse("6c1e2f7a-3d5b-4a8e-9f0c-2b7d4e6a8c10")

// Grouper groups MOS stories.
type Grouper struct {
	// Separator splits a story name into group prefix and title.
	Separator string
}

// New returns a Grouper using sep, or the default separator when empty.
func New(sep string) *Grouper {
	if sep == "" {
		sep = config.DefaultMosGroupSeparator
	}
	return &Grouper{Separator: sep}
}

// Prefix returns the group prefix of a story name: the text before the
// first separator, trimmed. A name without separator is its own prefix.
func (g *Grouper) Prefix(name string) string {
	if i := strings.Index(name, g.Separator); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// GroupID derives the external id of a group. It only depends on its
// inputs, so an unchanged group keeps its id across deliveries.
func GroupID(rundownID, prefix, firstStoryID string) string {
	key := rundownID + "\x00" + prefix + "\x00" + firstStoryID
	return uuid.NewSHA1(groupNamespace, []byte(key)).String()
}

// Group returns a new tree whose segments are the story groups of flat.
// Ranks are renumbered: groups 0..n-1 and parts 0..m-1 within each group.
// Parts are cloned, flat is not modified.
func (g *Grouper) Group(flat *ingest.Rundown) *ingest.Rundown {
	if flat == nil {
		return nil
	}

	out := &ingest.Rundown{
		ExternalID: flat.ExternalID,
		Name:       flat.Name,
		Type:       flat.Type,
		Payload:    flat.Payload.Clone(),
		Modified:   flat.Modified,
	}

	var current *ingest.Segment
	var currentPrefix string
	for _, story := range flat.Segments {
		prefix := g.Prefix(story.Name)
		if current == nil || prefix != currentPrefix {
			current = &ingest.Segment{
				ExternalID: GroupID(flat.ExternalID, prefix, story.ExternalID),
				Name:       prefix,
				Rank:       float64(len(out.Segments)),
			}
			currentPrefix = prefix
			out.Segments = append(out.Segments, current)
		}
		for _, p := range story.Parts {
			cp := p.Clone()
			cp.Rank = float64(len(current.Parts))
			current.Parts = append(current.Parts, cp)
		}
	}

	return out
}

// Apply groups both trees and diffs the grouped views. A Regenerate
// requested by the caller survives, any other caller diff is replaced
// because grouping can merge or split segments in ways a per-story diff
// cannot express.
func (g *Grouper) Apply(prevFlat, nextFlat *ingest.Rundown, callerDetails *changes.NrcsIngestChangeDetails) (*ingest.Rundown, *changes.NrcsIngestChangeDetails) {
	groupedPrev := g.Group(prevFlat)
	groupedNext := g.Group(nextFlat)

	details := diff.Rundowns(groupedPrev, groupedNext, diff.TreeOptions{Kind: "group"})
	if callerDetails != nil && callerDetails.RundownChanges == changes.RundownRegenerate {
		details.RundownChanges = changes.RundownRegenerate
	}

	log.Debug("regrouped stories",
		"rundown", nextFlat.ExternalID,
		"stories", len(nextFlat.Segments),
		"groups", len(groupedNext.Segments),
		"segment_changes", len(details.SegmentChanges),
		"renames", len(details.Renames()))

	return groupedNext, details
}
