// Package analysis extracts tempo, beat positions and coarse timbre
// features from decoded audio.
package analysis

import "math"

const (
	MinTempo     = 60.0
	MaxTempo     = 200.0
	DefaultTempo = 120.0

	analysisRate = 24000
	frameSize    = 1024
	hopSize      = 512
	minFrames    = 100
)

// Beats is the output of a beat detector.
type Beats struct {
	Tempo float64   // beats per minute
	Times []float64 // beat positions in seconds
}

// Detector finds the tempo and beat positions of mono samples.
type Detector interface {
	Detect(samples []float32, sampleRate int) (Beats, error)
}

// PlausibleTempo returns bpm when it falls inside [MinTempo, MaxTempo]
// and DefaultTempo otherwise.
func PlausibleTempo(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm < MinTempo || bpm > MaxTempo {
		return DefaultTempo
	}
	return bpm
}

// DSP is an onset-autocorrelation beat tracker. It finds the dominant beat
// period in the spectral flux and lays a grid at the strongest phase.
// Silent or very short input yields no beats.
type DSP struct{}

// Detect implements Detector.
func (DSP) Detect(samples []float32, sampleRate int) (Beats, error) {
	factor := max(sampleRate/analysisRate, 1)
	x := decimate(samples, factor)
	sr := sampleRate / factor

	onset := onsetEnvelope(x, frameSize, hopSize)
	if len(onset) < minFrames || silent(onset) {
		return Beats{Tempo: DefaultTempo}, nil
	}

	minLag := sr * 60 / (int(MaxTempo) * hopSize)
	maxLag := sr * 60 / (int(MinTempo) * hopSize)
	lag := beatLag(onset, max(minLag, 1), maxLag)

	hopSec := float64(hopSize) / float64(sr)
	period := float64(lag) * hopSec
	tempo := PlausibleTempo(math.Round(60/period*10) / 10)

	duration := float64(len(x)) / float64(sr)
	first := (float64(beatPhase(onset, lag)*hopSize) + frameSize/2) / float64(sr)
	var times []float64
	for t := first; t < duration; t += period {
		times = append(times, math.Round(t*1000)/1000)
	}
	return Beats{Tempo: tempo, Times: times}, nil
}

func silent(onset []float64) bool {
	for _, v := range onset {
		if v > 1e-6 {
			return false
		}
	}
	return true
}
