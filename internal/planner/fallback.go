package planner

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// ErrNoClips means there is nothing in the inventory to build a plan from.
var ErrNoClips = errors.New("no audio available: upload a track first")

// keywordMatch is the Jaro-Winkler score at which a word counts as a
// keyword, so "crosfade" still selects a crossfade.
const keywordMatch = 0.9

// nameMatch is the score at which a word counts as naming a track.
const nameMatch = 0.88

type kindRule struct {
	kind     plan.Kind
	words    []string // compared fuzzily against each word
	phrases  []string // matched as substrings (CJK has no word breaks)
	duration float64  // used when the text names no duration
}

// kindRules are checked in order; the first rule that matches wins.
var kindRules = []kindRule{
	{plan.Crossfade, []string{"crossfade", "fade", "blend", "smooth"}, []string{"淡化", "淡入", "淡出", "渐变"}, 3},
	{plan.BeatSync, []string{"beatsync", "beat", "beats", "tempo", "rhythm", "bpm"}, []string{"节拍", "卡点"}, 3},
	{plan.MagicFill, []string{"magicfill", "magic", "generate", "extend"}, []string{"魔法", "填充", "生成"}, 5},
	{plan.Silence, []string{"silence", "silent", "pause", "gap"}, []string{"静音", "停顿", "空白"}, 2},
}

var durationPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:秒|(?:seconds?|secs?|s)\b)`)

// Synthesize builds a plan without a model: the first clip of two tracks
// joined by one transition, or a single track split at its midpoint.
// The transition kind and duration come from keywords in text.
func Synthesize(text string, inv plan.Inventory) (plan.Plan, error) {
	tracks := usableTracks(inv)
	if len(tracks) == 0 {
		return plan.Plan{}, ErrNoClips
	}

	words := splitWords(text)
	kind, duration, matched := pickTransition(text, words)
	chosen := pickTracks(words, tracks)

	var p plan.Plan
	if len(chosen) >= 2 {
		a, b := chosen[0], chosen[1]
		ca, cb := a.AllClips()[0], b.AllClips()[0]
		if kind.Overlapping() {
			duration = math.Min(duration, math.Min(ca.Duration(), cb.Duration())/2)
		}
		p.Ops = []plan.Op{
			plan.ClipOp(plan.ClipRef{TrackID: trackRef(a), ClipID: ca.ID}),
			plan.TransitionOpOf(kind, duration),
			plan.ClipOp(plan.ClipRef{TrackID: trackRef(b), ClipID: cb.ID}),
		}
		p.Explanation = fmt.Sprintf("Play %s%s (%s - %s), then a %gs %s into %s%s (%s - %s).",
			a.DisplayName(), ca.ID.String(), formatTime(ca.Start), formatTime(ca.End),
			duration, kind,
			b.DisplayName(), cb.ID.String(), formatTime(cb.Start), formatTime(cb.End))
	} else {
		t := chosen[0]
		c := t.AllClips()[0]
		if !matched {
			kind, duration = plan.Silence, 2
		}
		mid := (c.Start + c.End) / 2
		if kind.Overlapping() {
			duration = math.Min(duration, c.Duration()/4)
		}
		start, end := c.Start, c.End
		p.Ops = []plan.Op{
			plan.ClipOp(plan.ClipRef{TrackID: trackRef(t), ClipID: c.ID, CustomStart: &start, CustomEnd: &mid}),
			plan.TransitionOpOf(kind, duration),
			plan.ClipOp(plan.ClipRef{TrackID: trackRef(t), ClipID: c.ID, CustomStart: &mid, CustomEnd: &end}),
		}
		p.Explanation = fmt.Sprintf("Split %s%s at %s and join the halves with a %gs %s.",
			t.DisplayName(), c.ID.String(), formatTime(mid), duration, kind)
	}

	p.EstimatedDuration, _ = plan.ExpectedDuration(p, inv)
	p.EstimatedDuration = math.Round(p.EstimatedDuration*100) / 100
	return p, nil
}

func usableTracks(inv plan.Inventory) []plan.Track {
	var out []plan.Track
	for _, t := range inv.Tracks {
		clips := t.AllClips()
		if len(clips) > 0 && clips[0].Duration() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// trackRef prefers the label, which is how tracks are shown to users.
func trackRef(t plan.Track) plan.ID {
	if t.Label != "" {
		return plan.StrID(t.Label)
	}
	return t.ID
}

// splitWords keeps the original case so a track labelled "A" is not
// confused with the article "a".
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// pickTransition returns the kind named in text, its duration, and whether
// any keyword matched at all. Crossfade is the default.
func pickTransition(text string, words []string) (plan.Kind, float64, bool) {
	metric := metrics.NewJaroWinkler()
	for _, rule := range kindRules {
		hit := false
		for _, p := range rule.phrases {
			if strings.Contains(text, p) {
				hit = true
				break
			}
		}
		for _, w := range words {
			if hit {
				break
			}
			for _, kw := range rule.words {
				if strutil.Similarity(strings.ToLower(w), kw, metric) >= keywordMatch {
					hit = true
					break
				}
			}
		}
		if hit {
			return rule.kind, durationIn(text, rule.duration), true
		}
	}
	return plan.Crossfade, durationIn(text, 3), false
}

// durationIn finds the first "<n>s" or "<n>秒" in text, bounded to a
// legal transition length.
func durationIn(text string, fallback float64) float64 {
	m := durationPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return fallback
	}
	d, err := strconv.ParseFloat(m[1], 64)
	if err != nil || d <= 0 {
		return fallback
	}
	return math.Min(d, plan.MaxTransitionDuration)
}

// pickTracks orders tracks by where the text first mentions them, by label
// or file name; unmentioned tracks follow in inventory order.
func pickTracks(words []string, tracks []plan.Track) []plan.Track {
	metric := metrics.NewJaroWinkler()
	firstMention := make([]int, len(tracks))
	for i, t := range tracks {
		firstMention[i] = -1
		name := strings.ToLower(strings.TrimSuffix(t.Name, filepath.Ext(t.Name)))
		for pos, w := range words {
			if mentionsLabel(w, t.Label) || (len(w) > 3 && name != "" && strutil.Similarity(strings.ToLower(w), name, metric) >= nameMatch) {
				firstMention[i] = pos
				break
			}
		}
	}

	var mentioned, rest []plan.Track
	var order []int
	for i := range tracks {
		if firstMention[i] >= 0 {
			order = append(order, i)
		} else {
			rest = append(rest, tracks[i])
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return firstMention[order[a]] < firstMention[order[b]]
	})
	for _, i := range order {
		mentioned = append(mentioned, tracks[i])
	}
	return append(mentioned, rest...)
}

// mentionsLabel matches "B" and the clip form "B2", case-sensitively.
func mentionsLabel(word, label string) bool {
	if label == "" || !strings.HasPrefix(word, label) {
		return false
	}
	for _, r := range word[len(label):] {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
