package plan

import (
	"fmt"
	"strings"
)

// Clip is a bounded region of a track, in seconds.
type Clip struct {
	ID    ID      `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration is the clip's natural length.
func (c Clip) Duration() float64 { return c.End - c.Start }

// Track is one uploaded source asset and the clips marked on it.
type Track struct {
	ID       ID      `json:"id"`
	Label    string  `json:"label"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	FileID   string  `json:"file_id,omitempty"`
	Clips    []Clip  `json:"clips"`

	// Path is the decoded source on disk, filled in by the request layer.
	Path string `json:"-"`
}

// AllClips returns the track's clips, or a single whole-track clip with
// id 1 when none were marked.
func (t Track) AllClips() []Clip {
	if len(t.Clips) > 0 {
		return t.Clips
	}
	return []Clip{{ID: NumID(1), Start: 0, End: t.Duration}}
}

// DisplayName is the label, falling back to the name or id.
func (t Track) DisplayName() string {
	switch {
	case t.Label != "":
		return t.Label
	case t.Name != "":
		return t.Name
	}
	return t.ID.String()
}

// ResolveClip finds a clip by id. The prompt's display form, the track
// label followed by the clip id ("A1"), is accepted too.
func (t Track) ResolveClip(id ID) (Clip, error) {
	key := id.Key()
	if key == "" {
		return Clip{}, fmt.Errorf("%w: missing clipId on track %s", ErrUnknownClip, t.DisplayName())
	}
	clips := t.AllClips()
	for _, c := range clips {
		if c.ID.Key() == key {
			return c, nil
		}
	}
	if t.Label != "" && len(key) > len(t.Label) && strings.EqualFold(key[:len(t.Label)], t.Label) {
		rest := StrID(key[len(t.Label):]).Key()
		for _, c := range clips {
			if c.ID.Key() == rest {
				return c, nil
			}
		}
	}
	return Clip{}, fmt.Errorf("%w: clip %q not found on track %s", ErrUnknownClip, id.String(), t.DisplayName())
}

// Inventory is the read-only set of tracks a plan may reference.
type Inventory struct {
	Tracks []Track `json:"tracks"`
}

// ResolveTrack finds the single track whose id or label matches. Labels
// compare case-insensitively; a token matching two different tracks is
// treated as unknown.
func (inv Inventory) ResolveTrack(id ID) (*Track, error) {
	key := id.Key()
	if key == "" {
		return nil, fmt.Errorf("%w: missing trackId", ErrUnknownTrack)
	}
	var found *Track
	for i := range inv.Tracks {
		t := &inv.Tracks[i]
		if t.ID.Key() != key && !(t.Label != "" && strings.EqualFold(t.Label, key)) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: track %q is ambiguous", ErrUnknownTrack, id.String())
		}
		found = t
	}
	if found == nil {
		return nil, fmt.Errorf("%w: track %q not found", ErrUnknownTrack, id.String())
	}
	return found, nil
}

// Resolve maps a clip reference to its track and effective time range.
func (inv Inventory) Resolve(ref ClipRef) (*Track, float64, float64, error) {
	t, err := inv.ResolveTrack(ref.TrackID)
	if err != nil {
		return nil, 0, 0, err
	}
	c, err := t.ResolveClip(ref.ClipID)
	if err != nil {
		return nil, 0, 0, err
	}
	start, end := c.Start, c.End
	if ref.HasCustomRange() {
		start, end = *ref.CustomStart, *ref.CustomEnd
	}
	return t, start, end, nil
}
