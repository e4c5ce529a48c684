package analysis

import "fmt"

// Window is how much of a clip feature extraction looks at, in seconds.
const Window = 30.0

// Features summarises a clip for transition advice.
type Features struct {
	Tempo     float64 `json:"tempo"`
	BeatCount int     `json:"beat_count"`
	Energy    float64 `json:"energy"`
	Centroid  float64 `json:"spectral_centroid"`
	Duration  float64 `json:"duration"`
}

// Extract computes Features over the first Window seconds of samples.
func Extract(d Detector, samples []float32, sampleRate int) (Features, error) {
	if sampleRate <= 0 {
		return Features{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if limit := int(Window * float64(sampleRate)); len(samples) > limit {
		samples = samples[:limit]
	}

	beats, err := d.Detect(samples, sampleRate)
	if err != nil {
		return Features{}, fmt.Errorf("detect beats: %w", err)
	}

	factor := max(sampleRate/analysisRate, 1)
	x := decimate(samples, factor)
	sr := sampleRate / factor

	return Features{
		Tempo:     PlausibleTempo(beats.Tempo),
		BeatCount: len(beats.Times),
		Energy:    meanRMS(x, 2048, hopSize),
		Centroid:  meanCentroid(x, sr, 2048, hopSize),
		Duration:  float64(len(samples)) / float64(sampleRate),
	}, nil
}
