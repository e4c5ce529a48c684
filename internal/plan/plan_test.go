package plan

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func f(v float64) *float64 { return &v }

// twoTracks is track A (192.28s) and track B (116.60s), one full-length clip each.
func twoTracks() Inventory {
	return Inventory{Tracks: []Track{
		{ID: NumID(0), Label: "A", Name: "intro.mp3", Duration: 192.28, Clips: []Clip{{ID: NumID(1), Start: 0, End: 192.28}}},
		{ID: NumID(1), Label: "B", Name: "outro.mp3", Duration: 116.60, Clips: []Clip{{ID: NumID(1), Start: 0, End: 116.60}}},
	}}
}

func clip(track, c ID) Op { return ClipOp(ClipRef{TrackID: track, ClipID: c}) }

// --- Identifiers ---

func TestIDKey(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{NumID(0), "0"},
		{StrID("0"), "0"},
		{StrID(" 7 "), "7"},
		{StrID("007"), "7"},
		{StrID("A"), "A"},
		{StrID(" A1"), "A1"},
		{StrID("1.0"), "1"},
		{StrID(" 2.00 "), "2"},
		{StrID("1.5"), "1.5"},
		{StrID("Inf"), "Inf"},
	}
	for _, tt := range tests {
		if got := tt.id.Key(); got != tt.want {
			t.Errorf("Key(%#v) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestIntegralStringMatchesNumber(t *testing.T) {
	track := Track{ID: NumID(3), Label: "C", Duration: 10, Clips: []Clip{{ID: NumID(1), End: 10}}}
	inv := Inventory{Tracks: []Track{track}}
	if _, err := inv.ResolveTrack(StrID("3.0")); err != nil {
		t.Errorf("ResolveTrack(\"3.0\"): %v", err)
	}
	if _, err := track.ResolveClip(StrID("1.0")); err != nil {
		t.Errorf("ResolveClip(\"1.0\"): %v", err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{`1`, NumID(1), false},
		{`1.0`, NumID(1), false},
		{`"1"`, StrID("1"), false},
		{`"A"`, StrID("A"), false},
		{`null`, ID{}, false},
		{`1.5`, ID{}, true},
		{`true`, ID{}, true},
	}
	for _, tt := range tests {
		var got ID
		err := json.Unmarshal([]byte(tt.in), &got)
		if (err != nil) != tt.wantErr {
			t.Errorf("Unmarshal(%s) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("Unmarshal(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

// --- Lookup ---

func TestResolveTrackIDAndLabelAgree(t *testing.T) {
	inv := twoTracks()
	for _, id := range []ID{StrID("A"), StrID("a"), NumID(0), StrID("0")} {
		tr, err := inv.ResolveTrack(id)
		if err != nil {
			t.Fatalf("ResolveTrack(%v): %v", id, err)
		}
		if tr.Label != "A" {
			t.Errorf("ResolveTrack(%v) = track %s, want A", id, tr.Label)
		}
	}
}

func TestResolveTrackUnknownAndAmbiguous(t *testing.T) {
	inv := twoTracks()
	if _, err := inv.ResolveTrack(StrID("C")); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("ResolveTrack(C) err = %v, want ErrUnknownTrack", err)
	}
	if _, err := inv.ResolveTrack(ID{}); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("ResolveTrack(empty) err = %v, want ErrUnknownTrack", err)
	}

	// Track 1's id collides with track 0's label.
	inv.Tracks[0].Label = "1"
	if _, err := inv.ResolveTrack(StrID("1")); !errors.Is(err, ErrUnknownTrack) {
		t.Errorf("ambiguous token err = %v, want ErrUnknownTrack", err)
	}
}

func TestResolveClipForms(t *testing.T) {
	tr := twoTracks().Tracks[0]
	for _, id := range []ID{NumID(1), StrID("1"), StrID("A1"), StrID("a1")} {
		c, err := tr.ResolveClip(id)
		if err != nil {
			t.Errorf("ResolveClip(%v): %v", id, err)
			continue
		}
		if c.End != 192.28 {
			t.Errorf("ResolveClip(%v) end = %v, want 192.28", id, c.End)
		}
	}
	if _, err := tr.ResolveClip(NumID(2)); !errors.Is(err, ErrUnknownClip) {
		t.Errorf("ResolveClip(2) err = %v, want ErrUnknownClip", err)
	}
}

func TestAllClipsDefaultsToWholeTrack(t *testing.T) {
	tr := Track{ID: NumID(3), Duration: 42}
	clips := tr.AllClips()
	if len(clips) != 1 || clips[0].Duration() != 42 || clips[0].ID.Key() != "1" {
		t.Errorf("AllClips() = %+v, want one 42s clip with id 1", clips)
	}
}

// --- Validation scenarios ---

func TestValidateCrossfadeScenario(t *testing.T) {
	p := Plan{
		Ops: []Op{
			clip(StrID("A"), NumID(1)),
			TransitionOpOf(Crossfade, 3),
			clip(StrID("B"), StrID("1")),
		},
		EstimatedDuration: 305.88,
	}
	if err := Validate(p, twoTracks()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, ok := ExpectedDuration(p, twoTracks())
	if !ok || got < 305.879 || got > 305.881 {
		t.Errorf("ExpectedDuration = %v (ok=%v), want 305.88", got, ok)
	}
}

func TestValidateCustomRangeScenario(t *testing.T) {
	p := Plan{
		Ops: []Op{
			ClipOp(ClipRef{TrackID: StrID("A"), ClipID: NumID(1), CustomStart: f(0), CustomEnd: f(116)}),
			TransitionOpOf(Crossfade, 3),
			ClipOp(ClipRef{TrackID: StrID("A"), ClipID: NumID(1), CustomStart: f(154), CustomEnd: f(192.28)}),
			TransitionOpOf(Crossfade, 3),
			clip(StrID("B"), NumID(1)),
		},
		EstimatedDuration: 298.88,
	}
	expected, _ := ExpectedDuration(p, twoTracks())
	if expected < 264.879 || expected > 264.881 {
		t.Fatalf("ExpectedDuration = %v, want 264.88", expected)
	}
	// |298.88 - 264.88| = 34 is inside max(15, 264.88*0.2).
	if err := Validate(p, twoTracks()); err != nil {
		t.Errorf("Validate: %v", err)
	}

	p.EstimatedDuration = 330
	err := Validate(p, twoTracks())
	if !errors.Is(err, ErrDurationMismatch) {
		t.Errorf("Validate with estimate 330 err = %v, want ErrDurationMismatch", err)
	}
}

func TestValidateUnknownTrack(t *testing.T) {
	p := Plan{
		Ops:               []Op{clip(StrID("C"), NumID(1))},
		EstimatedDuration: 10,
	}
	err := Validate(p, twoTracks())
	if !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("Validate err = %v, want ErrUnknownTrack", err)
	}
	var vs Violations
	if !errors.As(err, &vs) || !vs.Has(CodeUnknownTrack) {
		t.Errorf("violations = %v, want unknown_track", vs)
	}
	if vs.Has(CodeDurationMismatch) {
		t.Errorf("duration should not be checked with dangling references: %v", vs)
	}
}

func TestValidateStartsWithTransition(t *testing.T) {
	for _, kind := range Kinds {
		p := Plan{
			Ops:               []Op{TransitionOpOf(kind, 2), clip(StrID("A"), NumID(1))},
			EstimatedDuration: 192.28,
		}
		err := Validate(p, twoTracks())
		if !errors.Is(err, ErrStructural) {
			t.Errorf("%s first: err = %v, want ErrStructural", kind, err)
		}
	}
}

func TestValidateAdjacentTransitions(t *testing.T) {
	p := Plan{
		Ops: []Op{
			clip(StrID("A"), NumID(1)),
			TransitionOpOf(Silence, 2),
			TransitionOpOf(Crossfade, 2),
			clip(StrID("B"), NumID(1)),
		},
		EstimatedDuration: 308.88,
	}
	err := Validate(p, twoTracks())
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("err = %v, want ErrStructural", err)
	}
}

func TestValidateStructuralBounds(t *testing.T) {
	tests := []struct {
		name string
		ops  []Op
	}{
		{"empty", nil},
		{"zero duration", []Op{clip(NumID(0), NumID(1)), TransitionOpOf(Silence, 0)}},
		{"too long", []Op{clip(NumID(0), NumID(1)), TransitionOpOf(Silence, 30.5)}},
		{"unknown kind", []Op{clip(NumID(0), NumID(1)), TransitionOpOf("wipe", 2)}},
		{"inverted range", []Op{ClipOp(ClipRef{TrackID: NumID(0), ClipID: NumID(1), CustomStart: f(10), CustomEnd: f(5)})}},
		{"negative start", []Op{ClipOp(ClipRef{TrackID: NumID(0), ClipID: NumID(1), CustomStart: f(-1), CustomEnd: f(5)})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(Plan{Ops: tt.ops}, twoTracks())
			if !errors.Is(err, ErrStructural) {
				t.Errorf("err = %v, want ErrStructural", err)
			}
		})
	}

	ok := Plan{Ops: []Op{clip(NumID(0), NumID(1)), TransitionOpOf(MagicFill, 30)}, EstimatedDuration: 222.28}
	if err := Validate(ok, twoTracks()); err != nil {
		t.Errorf("30s magicfill should be allowed: %v", err)
	}
}

func TestValidateClipOutOfRangeIsNotClamped(t *testing.T) {
	p := Plan{
		Ops:               []Op{ClipOp(ClipRef{TrackID: StrID("B"), ClipID: NumID(1), CustomStart: f(100), CustomEnd: f(130)})},
		EstimatedDuration: 30,
	}
	err := Validate(p, twoTracks())
	if !errors.Is(err, ErrClipOutOfRange) {
		t.Errorf("err = %v, want ErrClipOutOfRange", err)
	}
}

func TestValidateCollectsEverything(t *testing.T) {
	p := Plan{
		Ops: []Op{
			TransitionOpOf(Crossfade, 3),
			clip(StrID("C"), NumID(1)),
			clip(StrID("A"), NumID(9)),
		},
	}
	var vs Violations
	if !errors.As(Validate(p, twoTracks()), &vs) {
		t.Fatal("expected Violations")
	}
	for _, code := range []Code{CodeStructural, CodeUnknownTrack, CodeUnknownClip} {
		if !vs.Has(code) {
			t.Errorf("missing %s in %v", code, vs)
		}
	}
}

func TestTolerance(t *testing.T) {
	tests := []struct {
		expected, want float64
	}{
		{10, 15},
		{100, 50},
		{119, 59.5},
		{120, 24},
		{300, 60},
	}
	for _, tt := range tests {
		if got := Tolerance(tt.expected); got != tt.want {
			t.Errorf("Tolerance(%v) = %v, want %v", tt.expected, got, tt.want)
		}
	}
}

// --- Wire format ---

func TestParseWireFormat(t *testing.T) {
	raw := `{
		"explanation": "A into B",
		"instructions": [
			{"type": "clip", "trackId": "A", "clipId": 1},
			{"type": "transition", "transitionType": "beatsync", "duration": 4, "transitionBeats": 8},
			{"type": "clip", "trackId": 1, "clipId": "1", "customStart": 10, "customEnd": 40.5}
		],
		"estimated_duration": 218.78
	}`
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Ops) != 3 {
		t.Fatalf("ops = %d, want 3", len(p.Ops))
	}
	tr := p.Ops[1].Transition
	if tr == nil || tr.Kind != BeatSync || tr.Duration != 4 || tr.Beats != 8 {
		t.Errorf("transition = %+v", tr)
	}
	c := p.Ops[2].Clip
	if c == nil || !c.HasCustomRange() || *c.CustomEnd != 40.5 {
		t.Errorf("clip = %+v", c)
	}
	if err := Validate(p, twoTracks()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse(`{"instructions":[{"type":"fx"}],"estimated_duration":1}`)
	if !errors.Is(err, ErrStructural) {
		t.Errorf("err = %v, want ErrStructural", err)
	}
	if _, err := Parse(`not json`); !errors.Is(err, ErrStructural) {
		t.Errorf("err = %v, want ErrStructural", err)
	}
}

func TestRoundTripPreservesOpsAndVerdict(t *testing.T) {
	plans := []Plan{
		{
			Explanation: "custom ranges",
			Ops: []Op{
				ClipOp(ClipRef{TrackID: StrID("A"), ClipID: NumID(1), CustomStart: f(0), CustomEnd: f(116)}),
				TransitionOpOf(Crossfade, 3),
				ClipOp(ClipRef{TrackID: NumID(0), ClipID: StrID("1"), CustomStart: f(154), CustomEnd: f(192.28)}),
				{Transition: &TransitionOp{Kind: BeatSync, Duration: 3, Beats: 2}},
				clip(StrID("B"), NumID(1)),
			},
			EstimatedDuration: 298.88,
		},
		{
			Ops:               []Op{clip(StrID("C"), NumID(1)), TransitionOpOf(Silence, 2)},
			EstimatedDuration: 1,
		},
	}
	for i, p := range plans {
		data, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("plan %d marshal: %v", i, err)
		}
		back, err := Parse(string(data))
		if err != nil {
			t.Fatalf("plan %d parse: %v", i, err)
		}
		if !reflect.DeepEqual(p.Ops, back.Ops) {
			t.Errorf("plan %d ops changed:\n got %s\nwant %+v", i, data, p.Ops)
		}
		before := Check(p, twoTracks())
		after := Check(back, twoTracks())
		if !reflect.DeepEqual(before, after) {
			t.Errorf("plan %d verdict changed: %v -> %v", i, before, after)
		}
	}
}
