// Package render assembles a timeline of clips and transitions into one
// audio buffer.
package render

import (
	"errors"
	"fmt"

	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// Segment is one timeline position: a slice of a source asset or a
// transition.
type Segment struct {
	Source     string             `json:"source,omitempty"`
	Start      float64            `json:"start,omitempty"`
	End        float64            `json:"end,omitempty"`
	Transition *plan.TransitionOp `json:"transition,omitempty"`
}

// ClipSegment slices [start, end) seconds out of the asset at path.
func ClipSegment(path string, start, end float64) Segment {
	return Segment{Source: path, Start: start, End: end}
}

// TransitionSegment wraps a transition.
func TransitionSegment(op plan.TransitionOp) Segment {
	return Segment{Transition: &op}
}

// IsTransition reports whether s is a transition.
func (s Segment) IsTransition() bool { return s.Transition != nil }

// Resolve maps a plan onto segments using the inventory's lookup rules.
// Every unresolved clip is reported.
func Resolve(p plan.Plan, inv plan.Inventory) ([]Segment, error) {
	segs := make([]Segment, 0, len(p.Ops))
	var errs []error
	for i, op := range p.Ops {
		if op.IsTransition() {
			segs = append(segs, TransitionSegment(*op.Transition))
			continue
		}
		if op.Clip == nil {
			errs = append(errs, fmt.Errorf("instruction %d: %w: empty operation", i+1, plan.ErrStructural))
			continue
		}
		track, start, end, err := inv.Resolve(*op.Clip)
		if err != nil {
			errs = append(errs, fmt.Errorf("instruction %d: %w", i+1, err))
			continue
		}
		segs = append(segs, ClipSegment(track.Path, start, end))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return segs, nil
}
