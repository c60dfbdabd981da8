package changes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/errors"
)

func TestIsEmpty(t *testing.T) {
	var nilDetails *NrcsIngestChangeDetails
	assert.True(t, nilDetails.IsEmpty())
	assert.True(t, NewDetails().IsEmpty())

	d := NewDetails()
	d.SetSegment("seg0", Modified())
	assert.True(t, d.IsEmpty(), "a modify change with no content is a noop")

	d.SetSegment("seg0", Modified().WithPart("part0", PartUpdated))
	assert.False(t, d.IsEmpty())

	assert.False(t, Regenerate().IsEmpty())
	assert.False(t, (&NrcsIngestChangeDetails{SegmentOrderChanged: true}).IsEmpty())
}

func TestSegmentChangeJSONShape(t *testing.T) {
	d := NewDetails()
	d.SetSegment("seg0", Modified().WithPart("part2", PartInserted).WithPartOrder())
	d.SetSegment("seg1", Deleted())
	d.SegmentOrderChanged = true

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"segmentChanges": {
			"seg0": {"partChanges": {"part2": "inserted"}, "partOrderChanged": true},
			"seg1": "deleted"
		},
		"segmentOrderChanged": true
	}`, string(b))

	var back NrcsIngestChangeDetails
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d.SegmentChanges, back.SegmentChanges)
	assert.True(t, back.SegmentOrderChanged)
}

func TestRenames(t *testing.T) {
	d := NewDetails()
	d.SetSegment("B", Renamed("A"))
	d.SetSegment("C", Inserted())

	assert.Equal(t, map[string]string{"A": "B"}, d.Renames())
}

func TestValidate(t *testing.T) {
	ok := NewDetails()
	ok.SetSegment("B", Renamed("A").WithPart("p1", PartUpdated))
	ok.SetSegment("C", Inserted())
	assert.NoError(t, ok.Validate())

	bad := NewDetails()
	bad.SetSegment("A", Renamed("A"))
	bad.SetSegment("X", SegmentChange{Kind: SegmentInserted, PayloadChanged: true})
	bad.SetSegment("Y", Renamed("Q"))
	bad.SetSegment("Z", Renamed("Q"))

	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidChange))

	var verrs *errors.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs.Errors, 3)
}

func TestUnmarshalRejectsUnknownEnum(t *testing.T) {
	var c SegmentChange
	assert.Error(t, json.Unmarshal([]byte(`"moved"`), &c))

	var pc PartChange
	assert.Error(t, json.Unmarshal([]byte(`"moved"`), &pc))
}
