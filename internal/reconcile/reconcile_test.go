package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/cache"
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/diff"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/staging"
)

func seg(id, name string, parts ...*ingest.Part) *ingest.Segment {
	for i, p := range parts {
		p.Rank = float64(i)
	}
	return &ingest.Segment{ExternalID: id, Name: name, Parts: parts}
}

func part(id, name string) *ingest.Part {
	return &ingest.Part{ExternalID: id, Name: name}
}

func tree(segments ...*ingest.Segment) *ingest.Rundown {
	for i, s := range segments {
		s.Rank = float64(i)
	}
	return &ingest.Rundown{
		ExternalID: "rd0",
		Name:       "Show",
		Payload:    ingest.MustPayload(map[string]any{"studio": "A"}),
		Segments:   segments,
	}
}

func baseline() *ingest.Rundown {
	return tree(
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("seg1", "S1", part("p2", "P2")),
		seg("seg2", "S2"),
	)
}

// shape lists segment ids each followed by their part ids.
func shape(r *ingest.Rundown) [][]string {
	out := make([][]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		out = append(out, append([]string{s.ExternalID}, s.PartIDs()...))
	}
	return out
}

// reconcile diffs prev against next, applies the result to a clean
// staging rundown built from prev and serializes it.
func reconcile(t *testing.T, prev, next *ingest.Rundown) *staging.Result {
	t.Helper()
	rd := staging.New(prev.Clone(), true)
	details := diff.Rundowns(prev, next, diff.TreeOptions{})
	require.NoError(t, details.Validate())
	require.NoError(t, Apply(rd, next, details))

	res, err := rd.IntoIngestRundown(cache.NewGenerator("rd0"))
	require.NoError(t, err)
	assert.Equal(t, shape(next), shape(res.Rundown))
	return res
}

func TestApplyNilDetails(t *testing.T) {
	rd := staging.New(baseline(), true)
	require.NoError(t, Apply(rd, baseline(), nil))
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, rd.SegmentIDs())
}

func TestApplyUnchanged(t *testing.T) {
	res := reconcile(t, baseline(), baseline())
	assert.True(t, res.Changes.IsEmpty())
	assert.Empty(t, res.ChangedRows)
}

func TestApplyRegenerate(t *testing.T) {
	next := baseline()
	next.Name = "Renamed show"

	rd := staging.New(baseline(), true)
	require.NoError(t, Apply(rd, next, changes.Regenerate()))

	res, err := rd.IntoIngestRundown(cache.NewGenerator("rd0"))
	require.NoError(t, err)

	assert.Equal(t, "Renamed show", res.Rundown.Name)
	assert.True(t, res.Changes.RegenerateRundown)
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, res.Changes.RegeneratedIDs())
	assert.Empty(t, res.Changes.SegmentsToRemove)
	assert.Equal(t, shape(next), shape(res.Rundown))
	assert.Len(t, res.ChangedRows, 1+3+3)
	assert.Equal(t, 1, res.Changes.SegmentsCleared)
}

func TestApplyRegenerateClearsOnceAndFollowsNrcsOrder(t *testing.T) {
	next := tree(
		seg("seg2", "S2"),
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("seg1", "S1", part("p2", "P2")),
	)

	rd := staging.New(baseline(), true)
	require.NoError(t, Apply(rd, next, changes.Regenerate()))
	assert.Equal(t, []string{"seg2", "seg0", "seg1"}, rd.SegmentIDs())

	res, err := rd.IntoIngestRundown(cache.NewGenerator("rd0"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changes.SegmentsCleared)
	assert.Equal(t, []string{"seg2", "seg0", "seg1"}, res.Changes.RegeneratedIDs())
	assert.Equal(t, shape(next), shape(res.Rundown))

	res, err = rd.IntoIngestRundown(cache.NewGenerator("rd0"))
	require.NoError(t, err)
	assert.Zero(t, res.Changes.SegmentsCleared, "reset after serializing")
}

func TestApplyRegenerateDropsLocalSegments(t *testing.T) {
	cached := baseline()
	cached.Segments = append(cached.Segments, seg("local", "Local"))

	rd := staging.New(cached, true)
	require.NoError(t, Apply(rd, baseline(), changes.Regenerate()))

	res, err := rd.IntoIngestRundown(cache.NewGenerator("rd0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, res.Changes.SegmentsToRemove)
}

func TestApplyPayloadChange(t *testing.T) {
	next := baseline()
	next.Payload = ingest.MustPayload(map[string]any{"studio": "B"})

	res := reconcile(t, baseline(), next)
	assert.True(t, res.Changes.RegenerateRundown)
	assert.Empty(t, res.Changes.SegmentsToRegenerate)
	assert.Empty(t, res.Changes.SegmentsUpdatedRanks)

	v, _ := res.Rundown.Payload.Get("studio")
	assert.Equal(t, "B", v)
}

func TestApplyInserts(t *testing.T) {
	next := tree(
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("segX", "SX"),
		seg("segY", "SY"),
		seg("seg1", "S1", part("p2", "P2")),
		seg("seg2", "S2"),
		seg("segZ", "SZ", part("pz", "PZ")),
	)

	res := reconcile(t, baseline(), next)
	assert.Equal(t, []string{"segX", "segY", "segZ"}, res.Changes.RegeneratedIDs())
	assert.Equal(t, map[string]float64{"seg1": 3, "seg2": 4}, res.Changes.SegmentsUpdatedRanks)
	assert.Empty(t, res.Changes.SegmentsToRemove)
}

func TestApplyInsertBetweenKeepsNeighbours(t *testing.T) {
	prev := tree(seg("a", "A"), seg("b", "B"))
	next := tree(seg("a", "A"), seg("mid", "Mid"), seg("b", "B"))

	res := reconcile(t, prev, next)
	assert.Equal(t, []string{"mid"}, res.Changes.RegeneratedIDs())
	assert.Equal(t, float64(0), res.Rundown.Segments[0].Rank)
	assert.Equal(t, float64(1), res.Rundown.Segments[1].Rank)
	assert.Equal(t, float64(2), res.Rundown.Segments[2].Rank)
	assert.NotContains(t, res.Changes.SegmentsUpdatedRanks, "a")
}

func TestApplyDelete(t *testing.T) {
	next := tree(
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("seg2", "S2"),
	)

	res := reconcile(t, baseline(), next)
	assert.Equal(t, []string{"seg1"}, res.Changes.SegmentsToRemove)
	assert.Equal(t, map[string]float64{"seg2": 1}, res.Changes.SegmentsUpdatedRanks)
}

func TestApplyDeleteMissingIsIgnored(t *testing.T) {
	rd := staging.New(baseline(), true)
	d := changes.NewDetails()
	d.SetSegment("ghost", changes.Deleted())
	require.NoError(t, Apply(rd, baseline(), d))
	assert.Equal(t, []string{"seg0", "seg1", "seg2"}, rd.SegmentIDs())
}

func TestApplyRename(t *testing.T) {
	next := tree(
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("segB", "S1", part("p2", "P2")),
		seg("seg2", "S2"),
	)

	res := reconcile(t, baseline(), next)
	assert.Equal(t, map[string]string{"seg1": "segB"}, res.Changes.SegmentExternalIDChanges)
	assert.Empty(t, res.Changes.SegmentsToRemove)
	assert.Empty(t, res.Changes.SegmentsToRegenerate)
}

func TestApplyRenameWithContentChange(t *testing.T) {
	next := tree(
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("segB", "S1 edited", part("p2", "P2"), part("p3", "P3")),
		seg("seg2", "S2"),
	)

	res := reconcile(t, baseline(), next)
	assert.Equal(t, map[string]string{"seg1": "segB"}, res.Changes.SegmentExternalIDChanges)
	assert.Equal(t, []string{"segB"}, res.Changes.RegeneratedIDs())
	assert.Equal(t, "S1 edited", res.Rundown.Segments[1].Name)
}

func TestApplyRenameMissing(t *testing.T) {
	rd := staging.New(baseline(), true)
	d := changes.NewDetails()
	d.SetSegment("segB", changes.Renamed("missing"))

	err := Apply(rd, baseline(), d)
	assert.True(t, errors.IsNotFound(err))
}

func TestApplyInsertMissingFromTree(t *testing.T) {
	rd := staging.New(baseline(), true)
	d := changes.NewDetails()
	d.SetSegment("ghost", changes.Inserted())

	err := Apply(rd, baseline(), d)
	assert.True(t, errors.IsNotFound(err))
}

func TestApplyPartChanges(t *testing.T) {
	next := baseline()
	next.Segments[0] = seg("seg0", "S0",
		part("pn", "new first"),
		part("p0", "P0"),
		&ingest.Part{ExternalID: "p1", Name: "P1", Payload: ingest.MustPayload(map[string]any{"clip": "x"})},
	)
	next.Segments[1] = seg("seg1", "S1")

	res := reconcile(t, baseline(), next)
	assert.Equal(t, []string{"seg0", "seg1"}, res.Changes.RegeneratedIDs())

	v, ok := res.Rundown.Segments[0].Parts[2].Payload.Get("clip")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestApplySegmentReorder(t *testing.T) {
	next := tree(
		seg("seg2", "S2"),
		seg("seg0", "S0", part("p0", "P0"), part("p1", "P1")),
		seg("seg1", "S1", part("p2", "P2")),
	)

	res := reconcile(t, baseline(), next)
	assert.Empty(t, res.Changes.SegmentsToRegenerate)
	assert.Equal(t, map[string]float64{"seg2": 0, "seg0": 1, "seg1": 2}, res.Changes.SegmentsUpdatedRanks)
}

func TestApplyPartReorder(t *testing.T) {
	next := baseline()
	next.Segments[0] = seg("seg0", "S0", part("p1", "P1"), part("p0", "P0"))

	res := reconcile(t, baseline(), next)
	assert.Equal(t, []string{"seg0"}, res.Changes.RegeneratedIDs())
}

func TestApplyReorderPinsLocalSegments(t *testing.T) {
	cached := tree(
		seg("seg0", "S0"),
		seg("local", "Local"),
		seg("seg1", "S1"),
		seg("seg2", "S2"),
	)
	nrcs := tree(seg("seg1", "S1"), seg("seg0", "S0"), seg("seg2", "S2"))

	rd := staging.New(cached, true)
	d := changes.NewDetails()
	d.SegmentOrderChanged = true
	require.NoError(t, Apply(rd, nrcs, d))

	assert.Equal(t, []string{"seg1", "seg0", "local", "seg2"}, rd.SegmentIDs())
}

func TestApplyReorderPinsLeadingLocalSegment(t *testing.T) {
	cached := tree(seg("local", "Local"), seg("seg0", "S0"), seg("seg1", "S1"))
	nrcs := tree(seg("seg1", "S1"), seg("seg0", "S0"))

	rd := staging.New(cached, true)
	d := changes.NewDetails()
	d.SegmentOrderChanged = true
	require.NoError(t, Apply(rd, nrcs, d))

	assert.Equal(t, []string{"local", "seg1", "seg0"}, rd.SegmentIDs())
}

func TestApplyMixedChanges(t *testing.T) {
	next := tree(
		seg("segN", "SN"),
		seg("seg2", "S2 edited"),
		seg("segB", "S1", part("p2", "P2")),
	)

	res := reconcile(t, baseline(), next)
	assert.Equal(t, []string{"seg0"}, res.Changes.SegmentsToRemove)
	assert.Equal(t, map[string]string{"seg1": "segB"}, res.Changes.SegmentExternalIDChanges)
	assert.ElementsMatch(t, []string{"segN", "seg2"}, res.Changes.RegeneratedIDs())
}
