package advisor

import (
	"fmt"
	"math"

	"github.com/satindergrewal/bigeyemix/internal/analysis"
	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// relDiff is |x-y| relative to the larger of the two, 0 when both are 0.
func relDiff(x, y float64) float64 {
	m := math.Max(math.Abs(x), math.Abs(y))
	if m == 0 {
		return 0
	}
	return math.Abs(x-y) / m
}

// BeatSync rates a beat-aligned splice by how close the tempos are.
func BeatSync(a, b analysis.Features) Analysis {
	res := Analysis{
		Kind:   plan.BeatSync,
		TempoA: a.Tempo,
		TempoB: b.Tempo,
	}
	if a.BeatCount == 0 || b.BeatCount == 0 {
		res.Confidence = 0.3
		res.Recommendation = plan.Crossfade
		res.Reason = "no clear beat detected"
		return res
	}

	ratio := relDiff(a.Tempo, b.Tempo)
	res.TempoDiff = math.Abs(a.Tempo - b.Tempo)
	res.OptimalBeats = OptimalBeats(ratio)
	res.Compatible = true
	switch {
	case ratio < 0.05:
		res.Confidence = 0.95
		res.Reason = fmt.Sprintf("tempos are very close (%.1f vs %.1f BPM)", a.Tempo, b.Tempo)
	case ratio < 0.15:
		res.Confidence = 0.75
		res.Reason = fmt.Sprintf("tempos are close (%.1f vs %.1f BPM)", a.Tempo, b.Tempo)
	case ratio < 0.30:
		res.Confidence = 0.50
		res.Reason = fmt.Sprintf("tempos differ (%.1f vs %.1f BPM), a longer transition may help", a.Tempo, b.Tempo)
	default:
		res.Confidence = 0.25
		res.Compatible = false
		res.Reason = fmt.Sprintf("tempos are too far apart (%.1f vs %.1f BPM)", a.Tempo, b.Tempo)
	}
	res.Recommendation = plan.Crossfade
	if res.Compatible {
		res.Recommendation = plan.BeatSync
	}
	return res
}

// OptimalBeats is the transition length in beats for a relative tempo
// difference.
func OptimalBeats(ratio float64) int {
	switch {
	case ratio < 0.05:
		return 2
	case ratio < 0.15:
		return 4
	default:
		return 8
	}
}

// Crossfade rates a crossfade by energy and timbre similarity. It is
// always compatible.
func Crossfade(a, b analysis.Features) Analysis {
	energy := relDiff(a.Energy, b.Energy)
	centroid := relDiff(a.Centroid, b.Centroid)

	res := Analysis{
		Kind:              plan.Crossfade,
		Compatible:        true,
		Recommendation:    plan.Crossfade,
		EnergyDiff:        math.Abs(a.Energy - b.Energy),
		CentroidDiff:      math.Abs(a.Centroid - b.Centroid),
		SuggestedDuration: SuggestedDuration(energy, centroid),
	}
	switch {
	case energy < 0.3 && centroid < 0.3:
		res.Confidence = 0.9
		res.Reason = "similar loudness and timbre, a crossfade will be smooth"
	case energy < 0.5 && centroid < 0.5:
		res.Confidence = 0.7
		res.Reason = "some difference in loudness or timbre, a crossfade will work"
	default:
		res.Confidence = 0.5
		res.Reason = "large difference in loudness or timbre, use a longer crossfade"
	}
	return res
}

// SuggestedDuration maps the mean of the two relative differences to a
// crossfade length in seconds.
func SuggestedDuration(energyRatio, centroidRatio float64) float64 {
	avg := (energyRatio + centroidRatio) / 2
	switch {
	case avg < 0.2:
		return 2
	case avg < 0.4:
		return 3
	default:
		return 5
	}
}
