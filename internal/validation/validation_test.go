package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

func TestExternalID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "seg0", false},
		{"mos style", "NCS.STORY;0A1B-22", false},
		{"spaces and unicode", "Wetter Übersicht 2", false},
		{"max length", strings.Repeat("a", MaxIDLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIDLength+1), true},
		{"nul", "seg\x000", true},
		{"newline", "seg\n0", true},
		{"del", "seg\x7f", true},
		{"invalid utf8", "seg\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ExternalID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckIDReportsField(t *testing.T) {
	v := errors.NewValidationErrors()
	CheckID(v, "segmentExternalId", "")
	CheckID(v, "partExternalId", "p\x01")
	CheckID(v, "rundownExternalId", "rd0")

	err := v.Err()
	require.Error(t, err)
	assert.Len(t, v.Errors, 2)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "segmentExternalId")
	assert.Contains(t, err.Error(), "partExternalId")
}

func TestCheckIDsDuplicates(t *testing.T) {
	v := errors.NewValidationErrors()
	CheckIDs(v, "storyIds", []string{"s1", "s2", "s1"})
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Error(), "storyIds[2]")
}

func TestCheckRundown(t *testing.T) {
	valid := &ingest.Rundown{
		ExternalID: "rd0",
		Segments: []*ingest.Segment{
			{ExternalID: "seg0", Parts: []*ingest.Part{{ExternalID: "p0"}, {ExternalID: "p1"}}},
			{ExternalID: "seg1", Parts: []*ingest.Part{{ExternalID: "p2"}}},
		},
	}
	v := errors.NewValidationErrors()
	CheckRundown(v, "rundown", valid)
	assert.NoError(t, v.Err())

	t.Run("duplicate segment", func(t *testing.T) {
		rd := valid.Clone()
		rd.Segments[1].ExternalID = "seg0"
		v := errors.NewValidationErrors()
		CheckRundown(v, "rundown", rd)
		require.Error(t, v.Err())
		assert.Contains(t, v.Error(), "rundown.segments[1].externalId")
	})

	t.Run("part in two segments", func(t *testing.T) {
		rd := valid.Clone()
		rd.Segments[1].Parts[0].ExternalID = "p0"
		v := errors.NewValidationErrors()
		CheckRundown(v, "rundown", rd)
		require.Error(t, v.Err())
		assert.Contains(t, v.Error(), `part "p0" also in segment "seg0"`)
	})

	t.Run("duplicate part in segment", func(t *testing.T) {
		rd := valid.Clone()
		rd.Segments[0].Parts[1].ExternalID = "p0"
		v := errors.NewValidationErrors()
		CheckRundown(v, "rundown", rd)
		require.Error(t, v.Err())
		assert.Contains(t, v.Error(), "rundown.segments[0].parts[1].externalId")
	})

	t.Run("missing part id", func(t *testing.T) {
		rd := valid.Clone()
		rd.Segments[0].Parts[0].ExternalID = ""
		v := errors.NewValidationErrors()
		CheckRundown(v, "rundown", rd)
		assert.True(t, errors.IsValidation(v.Err()))
	})

	t.Run("rundown id may be omitted", func(t *testing.T) {
		rd := valid.Clone()
		rd.ExternalID = ""
		v := errors.NewValidationErrors()
		CheckRundown(v, "rundown", rd)
		assert.NoError(t, v.Err())
	})
}
