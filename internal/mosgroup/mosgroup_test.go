package mosgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

func story(id, name string) *ingest.Segment {
	return &ingest.Segment{
		ExternalID: id,
		Name:       name,
		Parts:      []*ingest.Part{{ExternalID: id, Name: name}},
	}
}

func flat(stories ...*ingest.Segment) *ingest.Rundown {
	for i, s := range stories {
		s.Rank = float64(i)
	}
	return &ingest.Rundown{ExternalID: "rd0", Name: "Show", Type: ingest.SourceMOS, Segments: stories}
}

func TestPrefix(t *testing.T) {
	g := New("")
	assert.Equal(t, "NEWS", g.Prefix("NEWS;Intro"))
	assert.Equal(t, "NEWS", g.Prefix(" NEWS ;Intro;extra"))
	assert.Equal(t, "Weather", g.Prefix("Weather"))
	assert.Equal(t, "", g.Prefix(";orphan"))
}

func TestGroupConsecutivePrefixes(t *testing.T) {
	g := New(";")
	rd := flat(
		story("s1", "NEWS;Intro"),
		story("s2", "NEWS;Politics"),
		story("s3", "SPORT;Football"),
		story("s4", "NEWS;Outro"),
	)

	grouped := g.Group(rd)
	require.Len(t, grouped.Segments, 3)

	assert.Equal(t, "NEWS", grouped.Segments[0].Name)
	assert.Equal(t, []string{"s1", "s2"}, grouped.Segments[0].PartIDs())
	assert.Equal(t, []string{"s3"}, grouped.Segments[1].PartIDs())
	assert.Equal(t, []string{"s4"}, grouped.Segments[2].PartIDs())

	for i, s := range grouped.Segments {
		assert.Equal(t, float64(i), s.Rank)
		for j, p := range s.Parts {
			assert.Equal(t, float64(j), p.Rank)
		}
	}

	assert.Equal(t, GroupID("rd0", "NEWS", "s1"), grouped.Segments[0].ExternalID)
	assert.NotEqual(t, grouped.Segments[0].ExternalID, grouped.Segments[2].ExternalID)
	assert.Len(t, rd.Segments, 4, "input must not be modified")
}

func TestGroupingIsDeterministic(t *testing.T) {
	g := New(";")
	rd := flat(story("s1", "A;1"), story("s2", "A;2"), story("s3", "B;1"))

	first := g.Group(rd)
	second := g.Group(rd.Clone())

	assert.Equal(t, first.SegmentIDs(), second.SegmentIDs())
}

func TestApplyUnchangedIsEmpty(t *testing.T) {
	g := New(";")
	rd := flat(story("s1", "A;1"), story("s2", "A;2"))

	_, d := g.Apply(rd, rd.Clone(), nil)
	assert.True(t, d.IsEmpty())
}

func TestApplyNoPreviousRegenerates(t *testing.T) {
	g := New(";")
	grouped, d := g.Apply(nil, flat(story("s1", "A;1")), nil)
	assert.Equal(t, changes.RundownRegenerate, d.RundownChanges)
	assert.Len(t, grouped.Segments, 1)
}

func TestApplyMergeGroups(t *testing.T) {
	g := New(";")
	prev := flat(story("s1", "A;1"), story("s2", "A;2"), story("s3", "B;1"))
	next := flat(story("s1", "A;1"), story("s2", "A;2"), story("s3", "A;3"))

	grouped, d := g.Apply(prev, next, nil)
	require.Len(t, grouped.Segments, 1)

	groupA := GroupID("rd0", "A", "s1")
	groupB := GroupID("rd0", "B", "s3")

	assert.Equal(t, changes.Deleted(), d.SegmentChanges[groupB])
	c := d.SegmentChanges[groupA]
	assert.Equal(t, map[string]changes.PartChange{"s3": changes.PartInserted}, c.PartChanges)
	assert.True(t, c.PartOrderChanged)
	assert.True(t, d.SegmentOrderChanged)
}

func TestApplyDetectsGroupRename(t *testing.T) {
	g := New(";")
	prev := flat(story("s1", "A;1"), story("s2", "A;2"))
	// The first story is removed, so the group id changes but the group
	// still shares story s2 and its name.
	next := flat(story("s2", "A;2"))

	_, d := g.Apply(prev, next, nil)

	oldID := GroupID("rd0", "A", "s1")
	newID := GroupID("rd0", "A", "s2")
	assert.Equal(t, map[string]string{oldID: newID}, d.Renames())
	assert.NotContains(t, d.SegmentChanges, oldID)

	c := d.SegmentChanges[newID]
	assert.Equal(t, map[string]changes.PartChange{"s1": changes.PartDeleted}, c.PartChanges)
	assert.True(t, c.PartOrderChanged)
}

func TestApplyKeepsCallerRegenerate(t *testing.T) {
	g := New(";")
	rd := flat(story("s1", "A;1"))

	_, d := g.Apply(rd, rd.Clone(), changes.Regenerate())
	assert.Equal(t, changes.RundownRegenerate, d.RundownChanges)
}
