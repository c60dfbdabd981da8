// Package validation checks identifiers and trees received from the NRCS
// before they reach the caches.
//
// External ids end up in row ids and database keys, so they must be
// non-empty, valid UTF-8, free of control characters and bounded in length.
// Within one tree segment ids and part ids must be unique.
package validation

import (
	"fmt"
	"unicode/utf8"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
)

// MaxIDLength is the longest accepted external id in bytes.
const MaxIDLength = 255

// =============================================================================
// External IDs
// =============================================================================

// ExternalID validates a single external id.
func ExternalID(id string) error {
	if id == "" {
		return fmt.Errorf("cannot be empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("too long: maximum %d bytes allowed", MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("not valid UTF-8")
	}
	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d", i)
		}
	}
	return nil
}

// CheckID adds a missing-field error for an empty id and a field error for
// an invalid one.
func CheckID(v *errors.ValidationErrors, field, id string) {
	if id == "" {
		v.AddMissing(field)
		return
	}
	if err := ExternalID(id); err != nil {
		v.AddField(field, err.Error())
	}
}

// CheckIDs checks every id in ids and rejects duplicates.
func CheckIDs(v *errors.ValidationErrors, field string, ids []string) {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		f := fmt.Sprintf("%s[%d]", field, i)
		CheckID(v, f, id)
		if _, dup := seen[id]; dup && id != "" {
			v.AddField(f, fmt.Sprintf("duplicate id %q", id))
		}
		seen[id] = struct{}{}
	}
}

// =============================================================================
// Trees
// =============================================================================

// CheckRundown validates the ids of a full tree. The rundown's own id may
// be empty, the request header carries it.
func CheckRundown(v *errors.ValidationErrors, field string, r *ingest.Rundown) {
	if r.ExternalID != "" {
		CheckID(v, field+".externalId", r.ExternalID)
	}

	segs := make(map[string]struct{}, len(r.Segments))
	parts := make(map[string]string)
	for i, s := range r.Segments {
		sf := fmt.Sprintf("%s.segments[%d]", field, i)
		if s == nil {
			v.AddMissing(sf)
			continue
		}
		CheckSegment(v, sf, s)

		if _, dup := segs[s.ExternalID]; dup {
			v.AddField(sf+".externalId", fmt.Sprintf("duplicate segment %q", s.ExternalID))
		}
		segs[s.ExternalID] = struct{}{}

		for _, p := range s.Parts {
			if p == nil {
				continue
			}
			if other, dup := parts[p.ExternalID]; dup && other != s.ExternalID {
				v.AddField(sf+".parts", fmt.Sprintf("part %q also in segment %q", p.ExternalID, other))
			}
			parts[p.ExternalID] = s.ExternalID
		}
	}
}

// CheckSegment validates a segment and its parts.
func CheckSegment(v *errors.ValidationErrors, field string, s *ingest.Segment) {
	CheckID(v, field+".externalId", s.ExternalID)

	seen := make(map[string]struct{}, len(s.Parts))
	for i, p := range s.Parts {
		pf := fmt.Sprintf("%s.parts[%d]", field, i)
		if p == nil {
			v.AddMissing(pf)
			continue
		}
		CheckPart(v, pf, p)
		if _, dup := seen[p.ExternalID]; dup {
			v.AddField(pf+".externalId", fmt.Sprintf("duplicate part %q", p.ExternalID))
		}
		seen[p.ExternalID] = struct{}{}
	}
}

// CheckPart validates a part.
func CheckPart(v *errors.ValidationErrors, field string, p *ingest.Part) {
	CheckID(v, field+".externalId", p.ExternalID)
}
