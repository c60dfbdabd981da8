package operations

import (
	"strings"

	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/ingest"
	"github.com/xtxerr/nrcsync/internal/validation"
)

const (
	KindMosRundown         = "mosRundown"
	KindMosRundownMetadata = "mosRundownMetadata"
	KindMosInsertStories   = "mosInsertStories"
	KindMosDeleteStories   = "mosDeleteStories"
	KindMosMoveStories     = "mosMoveStories"
	KindMosSwapStories     = "mosSwapStories"
	KindMosFullStory       = "mosFullStory"
)

// Story is one MOS story. In the NRCS tree it is a segment holding a
// single part, both carrying the story id; the grouping adapter builds
// the real segments later.
type Story struct {
	ExternalID string         `json:"externalId"`
	Name       string         `json:"name"`
	Payload    ingest.Payload `json:"payload"`
}

func (s Story) segment() *ingest.Segment {
	return &ingest.Segment{
		ExternalID: s.ExternalID,
		Name:       s.Name,
		Parts: []*ingest.Part{{
			ExternalID: s.ExternalID,
			Name:       s.Name,
			Payload:    s.Payload.Clone(),
		}},
	}
}

func validateStories(v *errors.ValidationErrors, field string, stories []Story) {
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ExternalID
	}
	validation.CheckIDs(v, field, ids)
}

func validateIDs(v *errors.ValidationErrors, field string, ids []string) {
	if len(ids) == 0 {
		v.AddMissing(field)
	}
	validation.CheckIDs(v, field, ids)
}

// renumber sets story ranks to their position.
func renumber(r *ingest.Rundown) {
	for i, s := range r.Segments {
		s.Rank = float64(i)
	}
}

func requireStories(r *ingest.Rundown, ids []string) error {
	var missing []string
	for _, id := range ids {
		if s, _ := r.FindSegment(id); s == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return errors.NewNotFound("segment", strings.Join(missing, ","))
	}
	return nil
}

// =============================================================================
// Requests
// =============================================================================

// MosRundown creates or replaces a MOS rundown from its full story list.
type MosRundown struct {
	Header
	Name    string         `json:"name"`
	Payload ingest.Payload `json:"payload"`
	Stories []Story        `json:"stories"`
}

func (r *MosRundown) Kind() string { return KindMosRundown }

func (r *MosRundown) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validateStories(v, "stories", r.Stories)
	return v.Err()
}

func (r *MosRundown) Apply(*ingest.Rundown) (*Update, error) {
	next := &ingest.Rundown{
		ExternalID: r.RundownExternalID,
		Name:       r.Name,
		Type:       ingest.SourceMOS,
		Payload:    r.Payload.Clone(),
	}
	for _, s := range r.Stories {
		next.Segments = append(next.Segments, s.segment())
	}
	renumber(next)
	return &Update{Rundown: next}, nil
}

// MosRundownMetadata replaces the rundown name and payload.
type MosRundownMetadata struct {
	Header
	Name    string         `json:"name"`
	Payload ingest.Payload `json:"payload"`
}

func (r *MosRundownMetadata) Kind() string { return KindMosRundownMetadata }

func (r *MosRundownMetadata) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	return v.Err()
}

func (r *MosRundownMetadata) Apply(prev *ingest.Rundown) (*Update, error) {
	meta := &UpdateRundownMetadata{
		Header:  r.Header,
		Name:    r.Name,
		Type:    ingest.SourceMOS,
		Payload: r.Payload,
	}
	return meta.Apply(prev)
}

// MosInsertStories inserts stories before BeforeStoryID, or appends them
// when it is empty. With Replace the anchor story itself is replaced.
type MosInsertStories struct {
	Header
	BeforeStoryID string  `json:"beforeStoryId,omitempty"`
	Stories       []Story `json:"stories"`
	Replace       bool    `json:"replace,omitempty"`
}

func (r *MosInsertStories) Kind() string { return KindMosInsertStories }

func (r *MosInsertStories) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	if len(r.Stories) == 0 {
		v.AddMissing("stories")
	}
	validateStories(v, "stories", r.Stories)
	if r.Replace && r.BeforeStoryID == "" {
		v.AddField("beforeStoryId", "required when replacing")
	}
	return v.Err()
}

func (r *MosInsertStories) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}

	at := len(prev.Segments)
	if r.BeforeStoryID != "" {
		_, i := prev.FindSegment(r.BeforeStoryID)
		if i < 0 {
			return nil, errors.NewNotFound("segment", r.BeforeStoryID)
		}
		at = i
		if r.Replace {
			prev.Segments = append(prev.Segments[:i], prev.Segments[i+1:]...)
		}
	}

	for _, s := range r.Stories {
		if existing, _ := prev.FindSegment(s.ExternalID); existing != nil {
			return nil, errors.NewAlreadyExists("segment", s.ExternalID)
		}
	}

	inserted := make([]*ingest.Segment, 0, len(r.Stories))
	for _, s := range r.Stories {
		inserted = append(inserted, s.segment())
	}
	segments := make([]*ingest.Segment, 0, len(prev.Segments)+len(inserted))
	segments = append(segments, prev.Segments[:at]...)
	segments = append(segments, inserted...)
	segments = append(segments, prev.Segments[at:]...)
	prev.Segments = segments

	renumber(prev)
	return &Update{Rundown: prev}, nil
}

// MosDeleteStories removes stories. Every id must exist.
type MosDeleteStories struct {
	Header
	StoryIDs []string `json:"storyIds"`
}

func (r *MosDeleteStories) Kind() string { return KindMosDeleteStories }

func (r *MosDeleteStories) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validateIDs(v, "storyIds", r.StoryIDs)
	return v.Err()
}

func (r *MosDeleteStories) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	if err := requireStories(prev, r.StoryIDs); err != nil {
		return nil, err
	}
	for _, id := range r.StoryIDs {
		prev.RemoveSegment(id)
	}
	renumber(prev)
	return &Update{Rundown: prev}, nil
}

// MosMoveStories moves stories, in the given order, before BeforeStoryID
// or to the end when it is empty.
type MosMoveStories struct {
	Header
	BeforeStoryID string   `json:"beforeStoryId,omitempty"`
	StoryIDs      []string `json:"storyIds"`
}

func (r *MosMoveStories) Kind() string { return KindMosMoveStories }

func (r *MosMoveStories) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validateIDs(v, "storyIds", r.StoryIDs)
	for _, id := range r.StoryIDs {
		if id == r.BeforeStoryID {
			v.AddField("beforeStoryId", "anchor is one of the moved stories")
		}
	}
	return v.Err()
}

func (r *MosMoveStories) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	if err := requireStories(prev, r.StoryIDs); err != nil {
		return nil, err
	}

	moved := make([]*ingest.Segment, 0, len(r.StoryIDs))
	for _, id := range r.StoryIDs {
		s, _ := prev.FindSegment(id)
		moved = append(moved, s)
		prev.RemoveSegment(id)
	}

	at := len(prev.Segments)
	if r.BeforeStoryID != "" {
		_, i := prev.FindSegment(r.BeforeStoryID)
		if i < 0 {
			return nil, errors.NewNotFound("segment", r.BeforeStoryID)
		}
		at = i
	}

	segments := make([]*ingest.Segment, 0, len(prev.Segments)+len(moved))
	segments = append(segments, prev.Segments[:at]...)
	segments = append(segments, moved...)
	segments = append(segments, prev.Segments[at:]...)
	prev.Segments = segments

	renumber(prev)
	return &Update{Rundown: prev}, nil
}

// MosSwapStories exchanges the positions of two stories.
type MosSwapStories struct {
	Header
	Story0 string `json:"story0"`
	Story1 string `json:"story1"`
}

func (r *MosSwapStories) Kind() string { return KindMosSwapStories }

func (r *MosSwapStories) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "story0", r.Story0)
	validation.CheckID(v, "story1", r.Story1)
	if r.Story0 != "" && r.Story0 == r.Story1 {
		v.AddField("story1", "cannot swap a story with itself")
	}
	return v.Err()
}

func (r *MosSwapStories) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	if err := requireStories(prev, []string{r.Story0, r.Story1}); err != nil {
		return nil, err
	}
	_, i := prev.FindSegment(r.Story0)
	_, j := prev.FindSegment(r.Story1)
	prev.Segments[i], prev.Segments[j] = prev.Segments[j], prev.Segments[i]

	renumber(prev)
	return &Update{Rundown: prev}, nil
}

// MosFullStory replaces the content of an existing story.
type MosFullStory struct {
	Header
	Story Story `json:"story"`
}

func (r *MosFullStory) Kind() string { return KindMosFullStory }

func (r *MosFullStory) Validate() error {
	v := errors.NewValidationErrors()
	r.validate(v)
	validation.CheckID(v, "story.externalId", r.Story.ExternalID)
	return v.Err()
}

func (r *MosFullStory) Apply(prev *ingest.Rundown) (*Update, error) {
	if err := requirePrev(prev, r.RundownExternalID); err != nil {
		return nil, err
	}
	_, i := prev.FindSegment(r.Story.ExternalID)
	if i < 0 {
		return nil, errors.NewNotFound("segment", r.Story.ExternalID)
	}

	seg := r.Story.segment()
	seg.Rank = prev.Segments[i].Rank
	prev.Segments[i] = seg
	return &Update{Rundown: prev}, nil
}
