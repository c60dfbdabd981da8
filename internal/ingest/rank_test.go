package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranks(parts []*Part) []float64 {
	out := make([]float64, len(parts))
	for i, p := range parts {
		out[i] = p.Rank
	}
	return out
}

func TestDecodeMarksMissingRank(t *testing.T) {
	body := `{"externalId":"seg0","name":"S","payload":{"k":"v"},"parts":[
		{"externalId":"a","rank":1},
		{"externalId":"b"},
		{"externalId":"c","rank":null},
		{"externalId":"d","rank":0}
	]}`
	var seg Segment
	require.NoError(t, json.Unmarshal([]byte(body), &seg))

	assert.True(t, seg.Unranked)
	assert.Equal(t, "S", seg.Name)
	assert.False(t, seg.Payload.IsZero())
	require.Len(t, seg.Parts, 4)
	assert.False(t, seg.Parts[0].Unranked)
	assert.True(t, seg.Parts[1].Unranked)
	assert.True(t, seg.Parts[2].Unranked)
	assert.False(t, seg.Parts[3].Unranked, "rank 0 is a rank")
	assert.Equal(t, []float64{1, 0, 0, 0}, ranks(seg.Parts))
}

func TestFillRanksInterpolates(t *testing.T) {
	tests := []struct {
		name  string
		parts []*Part
		want  []float64
	}{
		{
			name:  "between neighbours",
			parts: []*Part{{ExternalID: "a", Rank: 1}, {ExternalID: "b", Unranked: true}, {ExternalID: "c", Unranked: true}, {ExternalID: "d", Rank: 4}},
			want:  []float64{1, 2, 3, 4},
		},
		{
			name:  "leading run",
			parts: []*Part{{ExternalID: "a", Unranked: true}, {ExternalID: "b", Unranked: true}, {ExternalID: "c", Rank: 2}},
			want:  []float64{0, 1, 2},
		},
		{
			name:  "trailing run",
			parts: []*Part{{ExternalID: "a", Rank: 1}, {ExternalID: "b", Unranked: true}},
			want:  []float64{1, 2},
		},
		{
			name:  "nothing ranked",
			parts: []*Part{{ExternalID: "a", Unranked: true}, {ExternalID: "b", Unranked: true}},
			want:  []float64{0, 1},
		},
		{
			name:  "neighbours out of order",
			parts: []*Part{{ExternalID: "a", Rank: 5}, {ExternalID: "b", Unranked: true}, {ExternalID: "c", Rank: 1}},
			want:  []float64{5, 6, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := &Segment{ExternalID: "seg0", Parts: tt.parts}
			seg.FillPartRanks(nil)
			assert.Equal(t, tt.want, ranks(seg.Parts))
			for _, p := range seg.Parts {
				assert.False(t, p.Unranked, p.ExternalID)
			}
		})
	}
}

func TestFillRanksReusesPreviousRanks(t *testing.T) {
	prev := &Rundown{Segments: []*Segment{
		{ExternalID: "seg0", Rank: 0, Parts: []*Part{
			{ExternalID: "p0", Rank: 1}, {ExternalID: "p1", Rank: 2},
			{ExternalID: "p2", Rank: 3}, {ExternalID: "p3", Rank: 4},
		}},
		{ExternalID: "seg1", Rank: 7},
	}}

	next := &Rundown{Segments: []*Segment{
		{ExternalID: "seg0", Rank: 0, Parts: []*Part{
			{ExternalID: "p0", Rank: 1}, {ExternalID: "p1", Rank: 2},
			{ExternalID: "p2", Unranked: true}, {ExternalID: "p3", Unranked: true},
		}},
		{ExternalID: "seg1", Unranked: true},
	}}
	next.FillRanks(prev)

	assert.Equal(t, []float64{1, 2, 3, 4}, ranks(next.Segments[0].Parts))
	assert.Equal(t, 7.0, next.Segments[1].Rank)
	assert.False(t, next.Segments[1].Unranked)
}

func TestFillRanksIgnoresPreviousRankOutOfRange(t *testing.T) {
	prev := &Rundown{Segments: []*Segment{{ExternalID: "seg0", Parts: []*Part{{ExternalID: "b", Rank: 10}}}}}
	seg := &Segment{ExternalID: "seg0", Parts: []*Part{
		{ExternalID: "a", Rank: 1}, {ExternalID: "b", Unranked: true}, {ExternalID: "c", Rank: 2},
	}}
	seg.FillPartRanks(prev)

	assert.Equal(t, []float64{1, 1.5, 2}, ranks(seg.Parts))
	SortParts(seg.Parts)
	assert.Equal(t, []string{"a", "b", "c"}, seg.PartIDs())
}
