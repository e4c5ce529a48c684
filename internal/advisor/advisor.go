// Package advisor rates how well two clips suit each transition kind.
package advisor

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/bigeyemix/internal/analysis"
	"github.com/satindergrewal/bigeyemix/internal/audio"
	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// Loader decodes a source asset.
type Loader interface {
	Load(ctx context.Context, path string) (audio.Buffer, error)
}

// Clip is the region of an asset to analyse. A zero End means the whole
// asset.
type Clip struct {
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Analysis is the verdict for one transition kind between two clips.
type Analysis struct {
	Kind           plan.Kind `json:"kind"`
	Compatible     bool      `json:"compatible"`
	Confidence     float64   `json:"confidence"`
	Recommendation plan.Kind `json:"recommendation"`
	Reason         string    `json:"reason,omitempty"`

	TempoA       float64 `json:"tempo1,omitempty"`
	TempoB       float64 `json:"tempo2,omitempty"`
	TempoDiff    float64 `json:"tempo_diff,omitempty"`
	OptimalBeats int     `json:"optimal_beats,omitempty"`

	EnergyDiff        float64 `json:"energy_diff,omitempty"`
	CentroidDiff      float64 `json:"centroid_diff,omitempty"`
	SuggestedDuration float64 `json:"suggested_duration,omitempty"`

	UserPreference plan.Kind  `json:"user_preference,omitempty"`
	Alternatives   []Analysis `json:"alternatives,omitempty"`
	Degraded       bool       `json:"degraded,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Advisor extracts clip features and applies the compatibility rules.
type Advisor struct {
	loader   Loader
	detector analysis.Detector
	log      *zap.Logger
}

// New creates an advisor.
func New(loader Loader, detector analysis.Detector, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advisor{loader: loader, detector: detector, log: logger}
}

// Analyze rates kind for a transition from a into b. Feature extraction
// failures produce a degraded default rather than an error.
func (a *Advisor) Analyze(ctx context.Context, from, to Clip, kind plan.Kind) Analysis {
	switch kind {
	case plan.MagicFill, plan.Silence:
		return Analysis{Kind: kind, Compatible: true, Confidence: 1.0, Recommendation: kind}
	case plan.BeatSync, plan.Crossfade:
	default:
		return Analysis{Kind: kind, Recommendation: plan.Crossfade, Reason: fmt.Sprintf("unknown transition kind %q", kind)}
	}

	fa, fb, err := a.features(ctx, from, to)
	if err != nil {
		return a.fallback(kind, err)
	}
	if kind == plan.BeatSync {
		return BeatSync(fa, fb)
	}
	return Crossfade(fa, fb)
}

// Recommend analyses preference alone when it is beatsync or crossfade.
// Otherwise both are analysed and the more confident one is returned with
// the other attached as an alternative.
func (a *Advisor) Recommend(ctx context.Context, from, to Clip, preference plan.Kind) Analysis {
	if preference == plan.BeatSync || preference == plan.Crossfade {
		res := a.Analyze(ctx, from, to, preference)
		res.UserPreference = preference
		return res
	}

	fa, fb, err := a.features(ctx, from, to)
	if err != nil {
		return a.fallback("", err)
	}
	beat, fade := BeatSync(fa, fb), Crossfade(fa, fb)
	if beat.Confidence > fade.Confidence {
		beat.Alternatives = []Analysis{fade}
		return beat
	}
	fade.Alternatives = []Analysis{beat}
	return fade
}

func (a *Advisor) fallback(kind plan.Kind, err error) Analysis {
	a.log.Warn("transition analysis failed", zap.String("kind", string(kind)), zap.Error(err))
	return Analysis{
		Kind:           kind,
		Compatible:     true,
		Confidence:     0.5,
		Recommendation: plan.Crossfade,
		Reason:         "analysis failed, using the default transition",
		Degraded:       true,
		Error:          err.Error(),
	}
}

// features extracts both clips' features in parallel.
func (a *Advisor) features(ctx context.Context, from, to Clip) (analysis.Features, analysis.Features, error) {
	var fa, fb analysis.Features
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		fa, err = a.extract(ctx, from)
		return err
	})
	g.Go(func() (err error) {
		fb, err = a.extract(ctx, to)
		return err
	})
	err := g.Wait()
	return fa, fb, err
}

func (a *Advisor) extract(ctx context.Context, c Clip) (analysis.Features, error) {
	if a.loader == nil || a.detector == nil {
		return analysis.Features{}, fmt.Errorf("analysis is not configured")
	}
	buf, err := a.loader.Load(ctx, c.Path)
	if err != nil {
		return analysis.Features{}, fmt.Errorf("load %s: %w", c.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return analysis.Features{}, err
	}
	end := c.End
	if end <= 0 {
		end = buf.Seconds()
	}
	region := buf.Span(c.Start, math.Min(end, c.Start+analysis.Window))
	if region.Frames() == 0 {
		return analysis.Features{}, fmt.Errorf("%s: empty region %.2f-%.2f", c.Path, c.Start, end)
	}
	f, err := analysis.Extract(a.detector, region.Mono(), audio.SampleRate)
	if err != nil {
		return analysis.Features{}, fmt.Errorf("%s: %w", c.Path, err)
	}
	return f, nil
}
