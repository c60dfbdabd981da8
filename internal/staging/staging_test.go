package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

func cachedTree() *ingest.Rundown {
	return &ingest.Rundown{
		ExternalID: "rd0",
		Name:       "Show",
		Payload:    ingest.MustPayload(map[string]any{"studio": "A"}),
		Segments: []*ingest.Segment{
			{ExternalID: "seg0", Name: "S0", Rank: 0, Parts: []*ingest.Part{
				{ExternalID: "part0", Name: "P0", Rank: 0},
				{ExternalID: "part1", Name: "P1", Rank: 1},
			}},
			{ExternalID: "seg1", Name: "S1", Rank: 1, Parts: []*ingest.Part{
				{ExternalID: "part2", Name: "P2", Rank: 0, Payload: ingest.MustPayload(map[string]any{"clip": "a"})},
			}},
			{ExternalID: "seg2", Name: "S2", Rank: 2},
		},
	}
}

func newClean(t *testing.T) *Rundown {
	t.Helper()
	r := New(cachedTree(), true)
	r.SetClock(func() time.Time { return time.UnixMilli(1000) })
	return r
}

func serialize(t *testing.T, r *Rundown) *Result {
	t.Helper()
	res, err := r.IntoIngestRundown(cache.NewGenerator(r.ExternalID()))
	require.NoError(t, err)
	return res
}

func TestCleanRundownHasNoChanges(t *testing.T) {
	r := newClean(t)
	res := serialize(t, r)

	assert.True(t, res.Changes.IsEmpty())
	assert.Empty(t, res.ChangedRows)
	assert.Len(t, res.AllRowIDs, 1+3+3)
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, res.Rundown.SegmentIDs())
}

func TestUncleanRundownRegeneratesEverything(t *testing.T) {
	r := New(cachedTree(), false)
	res := serialize(t, r)

	assert.True(t, res.Changes.RegenerateRundown)
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, res.Changes.RegeneratedIDs())
	assert.Len(t, res.ChangedRows, 1+3+3)
	assert.Empty(t, res.Changes.SegmentsToRemove)
}

func TestChangesAreOneShot(t *testing.T) {
	r := newClean(t)
	r.SetName("New Show")
	r.Segment("seg1").Part("part2").SetName("renamed part")

	first := serialize(t, r)
	assert.True(t, first.Changes.RegenerateRundown)
	assert.Equal(t, []string{"seg1"}, first.Changes.RegeneratedIDs())
	assert.NotEmpty(t, first.ChangedRows)

	second := serialize(t, r)
	assert.True(t, second.Changes.IsEmpty())
	assert.Empty(t, second.ChangedRows)
}

func TestReplacePayloadOnlyDirtyWhenDifferent(t *testing.T) {
	r := newClean(t)
	r.ReplacePayload(ingest.MustPayload(map[string]any{"studio": "A"}))
	r.Segment("seg1").Part("part2").ReplacePayload(ingest.MustPayload(map[string]any{"clip": "a"}))

	res := serialize(t, r)
	assert.True(t, res.Changes.IsEmpty())

	r.Segment("seg1").Part("part2").ReplacePayload(ingest.MustPayload(map[string]any{"clip": "b"}))
	res = serialize(t, r)
	assert.Equal(t, []string{"seg1"}, res.Changes.RegeneratedIDs())
	assert.False(t, res.Changes.RegenerateRundown)
}

func TestSetPayloadProperty(t *testing.T) {
	r := newClean(t)
	require.NoError(t, r.SetPayloadProperty("studio", "A"))
	assert.True(t, serialize(t, r).Changes.IsEmpty())

	require.NoError(t, r.SetPayloadProperty("studio", "B"))
	assert.True(t, serialize(t, r).Changes.RegenerateRundown)

	err := r.Segment("seg0").SetPayloadProperty("x", 1)
	assert.True(t, errors.Is(err, errors.ErrPayloadUnset))
}

func TestRemoveSegment(t *testing.T) {
	r := newClean(t)
	assert.True(t, r.RemoveSegment("seg1"))
	assert.False(t, r.RemoveSegment("seg1"))

	res := serialize(t, r)
	assert.Equal(t, []string{"seg1"}, res.Changes.SegmentsToRemove)
	assert.Equal(t, map[string]float64{"seg2": 1}, res.Changes.SegmentsUpdatedRanks)
	assert.Empty(t, res.Changes.SegmentsToRegenerate)
	assert.NotContains(t, res.AllRowIDs, cache.NewGenerator("rd0").SegmentRowID("seg1"))
}

func TestReplaceSegmentInPlaceAndAppend(t *testing.T) {
	r := newClean(t)

	_, err := r.ReplaceSegment(&ingest.Segment{ExternalID: "seg1", Name: "S1 new"}, "")
	require.NoError(t, err)
	_, err = r.ReplaceSegment(&ingest.Segment{ExternalID: "seg3", Name: "S3"}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"seg0", "seg1", "seg2", "seg3"}, r.SegmentIDs())

	res := serialize(t, r)
	assert.Equal(t, []string{"seg1", "seg3"}, res.Changes.RegeneratedIDs())
	assert.Empty(t, res.Changes.SegmentsToRemove, "a replaced segment is regenerated, not removed")
}

func TestReplaceSegmentBeforeAnchor(t *testing.T) {
	r := newClean(t)

	_, err := r.ReplaceSegment(&ingest.Segment{ExternalID: "segX"}, "seg1")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg0", "segX", "seg1", "seg2"}, r.SegmentIDs())

	_, err = r.ReplaceSegment(&ingest.Segment{ExternalID: "seg2"}, "seg0")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg2", "seg0", "segX", "seg1"}, r.SegmentIDs())

	_, err = r.ReplaceSegment(&ingest.Segment{ExternalID: "seg0"}, "seg0")
	assert.True(t, errors.Is(err, errors.ErrInvalidChange))

	_, err = r.ReplaceSegment(&ingest.Segment{ExternalID: "segY"}, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestMoveSegment(t *testing.T) {
	r := newClean(t)

	require.NoError(t, r.MoveSegmentBefore("seg2", "seg0"))
	assert.Equal(t, []string{"seg2", "seg0", "seg1"}, r.SegmentIDs())

	require.NoError(t, r.MoveSegmentAfter("seg2", "seg1"))
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, r.SegmentIDs())

	res := serialize(t, r)
	assert.True(t, res.Changes.IsEmpty(), "moving back to the original position is not a change")

	require.NoError(t, r.MoveSegmentBefore("seg0", ""))
	res = serialize(t, r)
	assert.Equal(t, map[string]float64{"seg1": 0, "seg2": 1, "seg0": 2}, res.Changes.SegmentsUpdatedRanks)

	require.NoError(t, r.MoveSegmentAfter("seg0", ""))
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, r.SegmentIDs())

	assert.True(t, errors.IsNotFound(r.MoveSegmentBefore("nope", "")))
	assert.True(t, errors.IsNotFound(r.MoveSegmentAfter("seg0", "nope")))
}

func TestChangeSegmentExternalID(t *testing.T) {
	r := newClean(t)

	_, err := r.ChangeSegmentExternalID("seg1", "seg0")
	assert.True(t, errors.IsAlreadyExists(err))

	_, err = r.ChangeSegmentExternalID("missing", "x")
	assert.True(t, errors.IsNotFound(err))

	seg, err := r.ChangeSegmentExternalID("seg1", "segB")
	require.NoError(t, err)
	assert.Equal(t, "seg1", seg.OriginalExternalID())

	res := serialize(t, r)
	assert.Equal(t, map[string]string{"seg1": "segB"}, res.Changes.SegmentExternalIDChanges)
	assert.Empty(t, res.Changes.SegmentsToRemove)
	assert.Empty(t, res.Changes.SegmentsToRegenerate)

	gen := cache.NewGenerator("rd0")
	var rewritten []string
	for _, row := range res.ChangedRows {
		rewritten = append(rewritten, row.ID)
	}
	assert.ElementsMatch(t, []string{gen.SegmentRowID("segB"), gen.PartRowID("part2")}, rewritten)
	assert.NotContains(t, res.AllRowIDs, gen.SegmentRowID("seg1"))
}

func TestPartOperations(t *testing.T) {
	r := newClean(t)
	seg := r.Segment("seg0")

	_, err := seg.ReplacePart(&ingest.Part{ExternalID: "partN"}, "part1")
	require.NoError(t, err)
	assert.Equal(t, []string{"part0", "partN", "part1"}, seg.PartIDs())

	require.NoError(t, seg.MovePartBefore("part0", ""))
	assert.Equal(t, []string{"partN", "part1", "part0"}, seg.PartIDs())

	require.NoError(t, seg.MovePartAfter("part0", ""))
	assert.True(t, seg.RemovePart("partN"))
	assert.Equal(t, []string{"part0", "part1"}, seg.PartIDs())

	res := serialize(t, r)
	assert.True(t, res.Changes.IsEmpty())

	seg.RemoveAllParts()
	res = serialize(t, r)
	assert.Equal(t, []string{"seg0"}, res.Changes.RegeneratedIDs())
	assert.Empty(t, res.Rundown.Segments[0].Parts)
}

func TestRemoveAllDoesNotReuseBackingArray(t *testing.T) {
	r := newClean(t)
	segments := r.segments
	seg := r.Segment("seg0")
	parts := seg.parts

	seg.RemoveAllParts()
	_, err := seg.ReplacePart(&ingest.Part{ExternalID: "partN"}, "")
	require.NoError(t, err)
	assert.Equal(t, "part0", parts[0].externalID)

	r.RemoveAllSegments()
	_, err = r.ReplaceSegment(&ingest.Segment{ExternalID: "segN"}, "")
	require.NoError(t, err)
	assert.Equal(t, "seg0", segments[0].externalID)
	assert.Equal(t, []string{"segN"}, r.SegmentIDs())

	res := serialize(t, r)
	assert.Equal(t, 1, res.Changes.SegmentsCleared)
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, res.Changes.SegmentsToRemove)
}

func TestDuplicatePartAcrossSegments(t *testing.T) {
	r := newClean(t)
	_, err := r.Segment("seg2").ReplacePart(&ingest.Part{ExternalID: "part0"}, "")
	require.NoError(t, err)

	_, err = r.IntoIngestRundown(cache.NewGenerator("rd0"))
	assert.True(t, errors.Is(err, errors.ErrDuplicatePart))
}

func TestForceFullRegenerate(t *testing.T) {
	r := newClean(t)
	r.ForceFullRegenerate()

	res := serialize(t, r)
	assert.True(t, res.Changes.RegenerateRundown)
	assert.Len(t, res.Changes.SegmentsToRegenerate, 3)
	assert.Len(t, res.ChangedRows, 1+3+3)
}

func TestPayloadIsolation(t *testing.T) {
	tree := cachedTree()
	r := New(tree, true)

	p := r.Segment("seg1").Part("part2").Payload()
	require.NoError(t, p.Set("clip", "mutated"))

	v, _ := r.Segment("seg1").Part("part2").Payload().Get("clip")
	assert.Equal(t, "a", v)
	v, _ = tree.Segments[1].Parts[0].Payload.Get("clip")
	assert.Equal(t, "a", v)
}
