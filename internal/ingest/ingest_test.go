package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/errors"
)

func sampleRundown() *Rundown {
	return &Rundown{
		ExternalID: "rd0",
		Name:       "Evening News",
		Payload:    MustPayload(map[string]any{"studio": "A"}),
		Segments: []*Segment{
			{ExternalID: "seg0", Name: "Opener", Rank: 0, Parts: []*Part{
				{ExternalID: "part0", Name: "Cam", Rank: 0},
				{ExternalID: "part1", Name: "VT", Rank: 1, Payload: MustPayload(map[string]any{"clip": "x.mxf"})},
			}},
		},
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleRundown()
	clone := orig.Clone()

	clone.Name = "changed"
	clone.Segments[0].Parts[0].Name = "changed"
	require.NoError(t, clone.Segments[0].Parts[1].Payload.Set("clip", "y.mxf"))

	assert.Equal(t, "Evening News", orig.Name)
	assert.Equal(t, "Cam", orig.Segments[0].Parts[0].Name)
	v, _ := orig.Segments[0].Parts[1].Payload.Get("clip")
	assert.Equal(t, "x.mxf", v)
}

func TestPayloadEqual(t *testing.T) {
	a := MustPayload(map[string]any{"a": 1.0, "b": []any{"x", "y"}})
	b := MustPayload(map[string]any{"b": []any{"x", "y"}, "a": 1.0})
	c := MustPayload(map[string]any{"a": 2.0})
	empty := MustPayload(map[string]any{})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, Payload{}.Equal(Payload{}))
	assert.False(t, Payload{}.Equal(empty))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestPayloadSetOnUnset(t *testing.T) {
	var p Payload
	err := p.Set("k", "v")
	assert.True(t, errors.Is(err, errors.ErrPayloadUnset))
}

func TestJSONRoundTripKeepsPayload(t *testing.T) {
	orig := sampleRundown()
	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Rundown
	require.NoError(t, json.Unmarshal(b, &back))

	assert.True(t, orig.Payload.Equal(back.Payload))
	assert.True(t, back.Segments[0].Parts[0].Payload.IsZero())
	assert.True(t, orig.Segments[0].Parts[1].Payload.Equal(back.Segments[0].Parts[1].Payload))
}

func TestInsertByRank(t *testing.T) {
	rd := sampleRundown()
	rd.Segments = append(rd.Segments, &Segment{ExternalID: "seg2", Rank: 2})
	rd.InsertSegmentByRank(&Segment{ExternalID: "seg1", Rank: 1})
	rd.InsertSegmentByRank(&Segment{ExternalID: "seg3", Rank: 5})

	assert.Equal(t, []string{"seg0", "seg1", "seg2", "seg3"}, rd.SegmentIDs())

	seg := rd.Segments[0]
	seg.InsertPartByRank(&Part{ExternalID: "part05", Rank: 0.5})
	assert.Equal(t, []string{"part0", "part05", "part1"}, seg.PartIDs())
}

func TestSortTreeIsStable(t *testing.T) {
	rd := &Rundown{Segments: []*Segment{
		{ExternalID: "b", Rank: 1},
		{ExternalID: "a", Rank: 1},
		{ExternalID: "c", Rank: 0},
	}}
	rd.SortTree()
	assert.Equal(t, []string{"c", "b", "a"}, rd.SegmentIDs())
}

func TestRemoveAndFind(t *testing.T) {
	rd := sampleRundown()

	seg, part := rd.FindPart("part1")
	require.NotNil(t, part)
	assert.Equal(t, "seg0", seg.ExternalID)

	assert.True(t, seg.RemovePart("part1"))
	assert.False(t, seg.RemovePart("part1"))
	assert.True(t, rd.RemoveSegment("seg0"))
	assert.Empty(t, rd.Segments)
}
