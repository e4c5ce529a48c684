package plan

import (
	"fmt"
	"math"
)

// rangeSlack absorbs float noise when a custom end lands on the track end.
const rangeSlack = 0.01

// Validate checks p against inv and returns nil or the full Violations list.
func Validate(p Plan, inv Inventory) error {
	if vs := Check(p, inv); len(vs) > 0 {
		return vs
	}
	return nil
}

// Check runs every structural, reference and timeline check and collects
// all violations instead of stopping at the first.
func Check(p Plan, inv Inventory) Violations {
	var vs Violations
	vs = append(vs, checkStructure(p)...)
	refs, resolved := checkReferences(p, inv)
	vs = append(vs, refs...)

	// Duration arithmetic is only meaningful once every clip resolved.
	if resolved {
		expected, _ := ExpectedDuration(p, inv)
		allowed := Tolerance(expected)
		if diff := math.Abs(p.EstimatedDuration - expected); diff > allowed || math.IsNaN(diff) {
			vs = append(vs, Violation{
				Code:  CodeDurationMismatch,
				Index: -1,
				Message: fmt.Sprintf("estimated_duration %.2fs differs from computed %.2fs by %.2fs (allowed %.2fs)",
					p.EstimatedDuration, expected, diff, allowed),
			})
		}
	}
	return vs
}

func checkStructure(p Plan) Violations {
	var vs Violations
	structural := func(i int, format string, args ...any) {
		vs = append(vs, Violation{Code: CodeStructural, Index: i, Message: fmt.Sprintf(format, args...)})
	}

	if len(p.Ops) == 0 {
		structural(-1, "plan has no instructions")
		return vs
	}
	if p.Ops[0].IsTransition() {
		structural(0, "plan must start with a clip, not a transition")
	}

	clips := 0
	for i, op := range p.Ops {
		switch {
		case op.Clip != nil:
			clips++
			c := op.Clip
			if c.CustomStart != nil && *c.CustomStart < 0 {
				structural(i, "customStart %.2f is negative", *c.CustomStart)
			}
			if c.HasCustomRange() && *c.CustomEnd <= *c.CustomStart {
				structural(i, "customEnd %.2f must be greater than customStart %.2f", *c.CustomEnd, *c.CustomStart)
			}
		case op.Transition != nil:
			t := op.Transition
			if i > 0 && p.Ops[i-1].IsTransition() {
				structural(i, "two transitions in a row (positions %d and %d)", i, i+1)
			}
			if !t.Kind.Valid() {
				structural(i, "unknown transitionType %q", t.Kind)
			}
			if !(t.Duration > 0 && t.Duration <= MaxTransitionDuration) {
				structural(i, "transition duration %.2f outside (0, %.0f]", t.Duration, MaxTransitionDuration)
			}
			if t.Beats < 0 {
				structural(i, "transitionBeats %d is negative", t.Beats)
			}
		default:
			structural(i, "instruction is neither a clip nor a transition")
		}
	}
	if clips == 0 {
		structural(-1, "plan contains no clips")
	}
	return vs
}

// checkReferences resolves every clip. The second result is false when
// any reference failed to resolve.
func checkReferences(p Plan, inv Inventory) (Violations, bool) {
	var vs Violations
	ok := true
	for i, op := range p.Ops {
		if op.Clip == nil {
			continue
		}
		t, err := inv.ResolveTrack(op.Clip.TrackID)
		if err != nil {
			vs = append(vs, Violation{Code: CodeUnknownTrack, Index: i, Message: err.Error()})
			ok = false
			continue
		}
		if _, err := t.ResolveClip(op.Clip.ClipID); err != nil {
			vs = append(vs, Violation{Code: CodeUnknownClip, Index: i, Message: err.Error()})
			ok = false
			continue
		}
		if op.Clip.HasCustomRange() && t.Duration > 0 && *op.Clip.CustomEnd > t.Duration+rangeSlack {
			vs = append(vs, Violation{
				Code:    CodeClipOutOfRange,
				Index:   i,
				Message: fmt.Sprintf("customEnd %.2f exceeds track %s duration %.2f", *op.Clip.CustomEnd, t.DisplayName(), t.Duration),
			})
		}
	}
	return vs, ok
}

// ExpectedDuration computes the timeline length: clip lengths plus
// insertive transitions minus overlapping ones. The bool is false if a
// clip could not be resolved; such clips contribute nothing.
func ExpectedDuration(p Plan, inv Inventory) (float64, bool) {
	total := 0.0
	ok := true
	for _, op := range p.Ops {
		switch {
		case op.Clip != nil:
			_, start, end, err := inv.Resolve(*op.Clip)
			if err != nil {
				ok = false
				continue
			}
			total += end - start
		case op.Transition != nil:
			if op.Transition.Kind.Insertive() {
				total += op.Transition.Duration
			} else if op.Transition.Kind.Overlapping() {
				total -= op.Transition.Duration
			}
		}
	}
	return total, ok
}

// Tolerance is the allowed absolute error on an estimate: short plans are
// allowed half their length, long plans a fifth, never less than 15s.
func Tolerance(expected float64) float64 {
	r := 0.2
	if expected < 120 {
		r = 0.5
	}
	return math.Max(15, math.Abs(expected)*r)
}
