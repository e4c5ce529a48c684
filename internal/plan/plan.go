package plan

import (
	"encoding/json"
	"fmt"
)

// MaxTransitionDuration is the longest gap a single transition may fill, in seconds.
const MaxTransitionDuration = 30.0

// Kind names a transition.
type Kind string

const (
	Crossfade Kind = "crossfade"
	BeatSync  Kind = "beatsync"
	MagicFill Kind = "magicfill"
	Silence   Kind = "silence"
)

// Kinds lists every supported transition.
var Kinds = []Kind{Crossfade, BeatSync, MagicFill, Silence}

// Valid reports whether k is a known transition kind.
func (k Kind) Valid() bool {
	switch k {
	case Crossfade, BeatSync, MagicFill, Silence:
		return true
	}
	return false
}

// Overlapping transitions consume time from the clips on either side.
func (k Kind) Overlapping() bool { return k == Crossfade || k == BeatSync }

// Insertive transitions add new material to the timeline.
func (k Kind) Insertive() bool { return k == MagicFill || k == Silence }

// ClipRef points at a clip of a track. CustomStart and CustomEnd replace
// the clip's own bounds only when both are set.
type ClipRef struct {
	TrackID     ID
	ClipID      ID
	CustomStart *float64
	CustomEnd   *float64
}

// HasCustomRange reports whether both custom bounds are present.
func (c ClipRef) HasCustomRange() bool {
	return c.CustomStart != nil && c.CustomEnd != nil
}

// TransitionOp fills the gap between two clips.
type TransitionOp struct {
	Kind     Kind
	Duration float64 // seconds
	Beats    int     // beatsync only; zero means the engine default
}

// Op is a single timeline element: exactly one of Clip or Transition is set.
type Op struct {
	Clip       *ClipRef
	Transition *TransitionOp
}

// ClipOp wraps a clip reference as an Op.
func ClipOp(c ClipRef) Op { return Op{Clip: &c} }

// TransitionOpOf wraps a transition as an Op.
func TransitionOpOf(kind Kind, duration float64) Op {
	return Op{Transition: &TransitionOp{Kind: kind, Duration: duration}}
}

// IsTransition reports whether the op is a transition.
func (o Op) IsTransition() bool { return o.Transition != nil }

// Plan is an ordered edit timeline plus the generator's own length estimate.
type Plan struct {
	Explanation       string  `json:"explanation"`
	Ops               []Op    `json:"instructions"`
	EstimatedDuration float64 `json:"estimated_duration"`
}

type clipWire struct {
	Type        string   `json:"type"`
	TrackID     ID       `json:"trackId"`
	ClipID      ID       `json:"clipId"`
	CustomStart *float64 `json:"customStart,omitempty"`
	CustomEnd   *float64 `json:"customEnd,omitempty"`
}

type transitionWire struct {
	Type            string  `json:"type"`
	TransitionType  Kind    `json:"transitionType"`
	Duration        float64 `json:"duration"`
	TransitionBeats int     `json:"transitionBeats,omitempty"`
}

// opWire is the union of both element shapes, used when decoding.
type opWire struct {
	Type            string   `json:"type"`
	TrackID         ID       `json:"trackId"`
	ClipID          ID       `json:"clipId"`
	CustomStart     *float64 `json:"customStart"`
	CustomEnd       *float64 `json:"customEnd"`
	TransitionType  Kind     `json:"transitionType"`
	Duration        float64  `json:"duration"`
	TransitionBeats int      `json:"transitionBeats"`
}

// MarshalJSON writes the instruction wire format.
func (o Op) MarshalJSON() ([]byte, error) {
	switch {
	case o.Clip != nil:
		return json.Marshal(clipWire{
			Type:        "clip",
			TrackID:     o.Clip.TrackID,
			ClipID:      o.Clip.ClipID,
			CustomStart: o.Clip.CustomStart,
			CustomEnd:   o.Clip.CustomEnd,
		})
	case o.Transition != nil:
		return json.Marshal(transitionWire{
			Type:            "transition",
			TransitionType:  o.Transition.Kind,
			Duration:        o.Transition.Duration,
			TransitionBeats: o.Transition.Beats,
		})
	}
	return nil, fmt.Errorf("empty instruction")
}

// UnmarshalJSON reads either element shape, keyed on "type".
func (o *Op) UnmarshalJSON(data []byte) error {
	var w opWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case "clip":
		*o = Op{Clip: &ClipRef{
			TrackID:     w.TrackID,
			ClipID:      w.ClipID,
			CustomStart: w.CustomStart,
			CustomEnd:   w.CustomEnd,
		}}
	case "transition":
		*o = Op{Transition: &TransitionOp{
			Kind:     w.TransitionType,
			Duration: w.Duration,
			Beats:    w.TransitionBeats,
		}}
	default:
		return fmt.Errorf("unknown instruction type %q", w.Type)
	}
	return nil
}

// Parse decodes a plan from its wire form. Decoding problems are reported
// as ErrStructural; content problems are left to Validate.
func Parse(jsonText string) (Plan, error) {
	var p Plan
	if err := json.Unmarshal([]byte(jsonText), &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrStructural, err)
	}
	return p, nil
}
