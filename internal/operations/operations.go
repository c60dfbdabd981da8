// Package operations defines the inbound ingest requests and the pure
// update functions they reduce to.
//
// Every request targets one rundown. Applied to the previously cached NRCS
// tree it yields the next tree, or a delete directive, plus optionally an
// explicit change description. A nil description asks the orchestrator to
// derive one by diffing.
package operations

import (
	"encoding/json"
	"sort"

	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/validation"
)

// Action says what the orchestrator does with an Update.
type Action int

const (
	ActionUpdate Action = iota
	ActionDelete
	ActionForceDelete
)

func (a Action) String() string {
	switch a {
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionForceDelete:
		return "force_delete"
	default:
		return "unknown"
	}
}

// Update is the outcome of an update function.
type Update struct {
	Action Action
	// Rundown is the complete next NRCS tree. Unused for deletes.
	Rundown *ingest.Rundown
	// Changes describes the transition. Nil means derive by diffing.
	Changes *changes.NrcsIngestChangeDetails
}

// UpdateFunc computes the next state from the previous NRCS tree, nil when
// nothing is cached. It may mutate prev.
type UpdateFunc func(prev *ingest.Rundown) (*Update, error)

// Header is carried by every request.
type Header struct {
	RundownExternalID  string `json:"rundownExternalId"`
	PeripheralDeviceID string `json:"peripheralDeviceId,omitempty"`
}

// Target returns the header.
func (h Header) Target() Header { return h }

func (h Header) validate(v *errors.ValidationErrors) {
	validation.CheckID(v, "rundownExternalId", h.RundownExternalID)
}

// Request is one inbound ingest operation.
type Request interface {
	// Kind names the operation, as used on the wire.
	Kind() string
	Target() Header
	Validate() error
	Apply(prev *ingest.Rundown) (*Update, error)
}

// Func adapts a request to an UpdateFunc.
func Func(req Request) UpdateFunc {
	return req.Apply
}

// =============================================================================
// Registry
// =============================================================================

var registry = map[string]func() Request{
	KindUpdateRundown:         func() Request { return &UpdateRundown{} },
	KindUpdateRundownMetadata: func() Request { return &UpdateRundownMetadata{} },
	KindRegenerateRundown:     func() Request { return &RegenerateRundown{} },
	KindRemoveRundown:         func() Request { return &RemoveRundown{} },
	KindUpdateSegment:         func() Request { return &UpdateSegment{} },
	KindRegenerateSegment:     func() Request { return &RegenerateSegment{} },
	KindRemoveSegment:         func() Request { return &RemoveSegment{} },
	KindUpdateSegmentRanks:    func() Request { return &UpdateSegmentRanks{} },
	KindUpdatePart:            func() Request { return &UpdatePart{} },
	KindRemovePart:            func() Request { return &RemovePart{} },
	KindMosRundown:            func() Request { return &MosRundown{} },
	KindMosRundownMetadata:    func() Request { return &MosRundownMetadata{} },
	KindMosInsertStories:      func() Request { return &MosInsertStories{} },
	KindMosDeleteStories:      func() Request { return &MosDeleteStories{} },
	KindMosMoveStories:        func() Request { return &MosMoveStories{} },
	KindMosSwapStories:        func() Request { return &MosSwapStories{} },
	KindMosFullStory:          func() Request { return &MosFullStory{} },
}

// Kinds returns every known operation kind, sorted.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode builds the request of the given kind from its JSON body and
// validates it.
func Decode(kind string, body []byte) (Request, error) {
	newReq, ok := registry[kind]
	if !ok {
		return nil, errors.NewValidation("op", "unknown operation "+kind)
	}
	req := newReq()
	if err := json.Unmarshal(body, req); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "decode %s: %v", kind, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// =============================================================================
// Shared helpers
// =============================================================================

func requirePrev(prev *ingest.Rundown, id string) error {
	if prev == nil {
		return errors.NewNotFound("rundown", id)
	}
	return nil
}

func requireSegment(r *ingest.Rundown, id string) (*ingest.Segment, error) {
	s, _ := r.FindSegment(id)
	if s == nil {
		return nil, errors.NewNotFound("segment", id)
	}
	return s, nil
}
