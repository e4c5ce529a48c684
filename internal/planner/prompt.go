package planner

import (
	"fmt"
	"math"
	"strings"

	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// feedbackWindow is how many recent problems are quoted back to the model.
const feedbackWindow = 3

// systemPrompt describes the instruction format and the arithmetic the
// validator will hold the model to.
const systemPrompt = `You are an audio editing assistant. You turn a user's description of how to combine audio clips into an executable edit plan.

Answer with ONE JSON object and nothing else:
{
  "explanation": "short description of the edit",
  "instructions": [
    {"type": "clip", "trackId": "A", "clipId": 1},
    {"type": "transition", "transitionType": "crossfade", "duration": 3},
    {"type": "clip", "trackId": "B", "clipId": 1, "customStart": 10.5, "customEnd": 42.0}
  ],
  "estimated_duration": 123.45
}

Transition types:
- crossfade: the two clips overlap while one fades out and the next fades in
- beatsync: the clips are cut on beats and overlapped in time with the music
- magicfill: new bridging music is generated to continue the previous clip
- silence: a silent gap

Rules:
1. The first instruction must be a clip. Never put two transitions next to each other.
2. trackId is the track label (or id) and clipId the clip number from the list you are given. Only use tracks and clips that exist.
3. customStart/customEnd (seconds) are optional and must stay inside the track; set both or neither, with customEnd > customStart.
4. Every transition needs 0 < duration <= 30 seconds.
5. estimated_duration = sum of clip lengths + magicfill and silence durations - crossfade and beatsync durations. Compute it carefully.`

// formatTime renders seconds as mm:ss.cc.
func formatTime(seconds float64) string {
	cs := int(math.Round(seconds * 100))
	if cs < 0 {
		cs = 0
	}
	m, rest := cs/6000, cs%6000
	return fmt.Sprintf("%02d:%02d.%02d", m, rest/100, rest%100)
}

// describeInventory lists tracks and clips in the form the model is asked
// to reference them by.
func describeInventory(inv plan.Inventory) string {
	var b strings.Builder
	for _, t := range inv.Tracks {
		label := t.DisplayName()
		fmt.Fprintf(&b, "Track %s", label)
		if t.Label != "" {
			fmt.Fprintf(&b, " (trackId %q", t.Label)
			if t.Name != "" {
				fmt.Fprintf(&b, ", file %q", t.Name)
			}
			b.WriteString(")")
		}
		fmt.Fprintf(&b, ": total %s (%.2fs)\n", formatTime(t.Duration), t.Duration)
		for _, c := range t.AllClips() {
			fmt.Fprintf(&b, "  - %s%s: clipId %s, %s - %s (%.2fs)\n",
				label, c.ID.String(), c.ID.String(), formatTime(c.Start), formatTime(c.End), c.Duration())
		}
	}
	return b.String()
}

// BuildPrompt assembles the user prompt for one attempt. Problems from
// earlier attempts are appended, newest last, so the model can correct them.
func BuildPrompt(text string, inv plan.Inventory, feedback Feedback) string {
	var b strings.Builder
	b.WriteString("Available audio:\n")
	b.WriteString(describeInventory(inv))
	b.WriteString("\nUser request:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")

	if recent := feedback.Recent(feedbackWindow); len(recent) > 0 {
		b.WriteString("\nYour previous answer was rejected. Fix these problems:\n")
		for _, msg := range recent {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}
	return b.String()
}
