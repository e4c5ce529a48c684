package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/analysis"
	"github.com/satindergrewal/bigeyemix/internal/audio"
	"github.com/satindergrewal/bigeyemix/internal/plan"
)

const (
	// ReferenceSeconds is the longest tail of the previous clip sent as
	// the magic fill reference.
	ReferenceSeconds = 10.0
	// rangeSlack absorbs decoder rounding at the end of an asset.
	rangeSlack = 0.1
)

// Loader decodes a source asset.
type Loader interface {
	Load(ctx context.Context, path string) (audio.Buffer, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (audio.Buffer, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (audio.Buffer, error) { return f(ctx, path) }

// FileLoader decodes assets from disk with ffmpeg.
var FileLoader Loader = LoaderFunc(audio.DecodeFile)

// Extender generates audio continuing a reference. The result holds the
// reference followed by the new material.
type Extender interface {
	Extend(ctx context.Context, reference audio.Buffer, seconds float64) (audio.Buffer, error)
}

// Config tunes transition rendering.
type Config struct {
	TransitionBeats  int           // beatsync length in beats when the plan gives none
	MagicFillTimeout time.Duration // ceiling for one magic fill
}

// DefaultConfig returns 4 beats and a 3 minute magic fill ceiling.
func DefaultConfig() Config {
	return Config{TransitionBeats: 4, MagicFillTimeout: 3 * time.Minute}
}

// Degradation records a transition rendered as silence instead of its
// requested kind.
type Degradation struct {
	Index     int       `json:"index"`
	Requested plan.Kind `json:"requested"`
	Used      plan.Kind `json:"used"`
	Reason    string    `json:"reason"`
}

// Result is a rendered timeline.
type Result struct {
	Buffer       audio.Buffer
	Degradations []Degradation
}

// Degraded reports whether any transition fell back to silence.
func (r Result) Degraded() bool { return len(r.Degradations) > 0 }

// Engine renders segment timelines. It holds no per-render state and is
// safe for concurrent use.
type Engine struct {
	loader   Loader
	detector analysis.Detector
	extender Extender
	cfg      Config
	log      *zap.Logger
}

// NewEngine creates an engine. A nil detector or extender makes beatsync
// or magicfill transitions degrade to silence.
func NewEngine(loader Loader, detector analysis.Detector, extender Extender, cfg Config, logger *zap.Logger) *Engine {
	if loader == nil {
		loader = FileLoader
	}
	if cfg.TransitionBeats <= 0 {
		cfg.TransitionBeats = DefaultConfig().TransitionBeats
	}
	if cfg.MagicFillTimeout <= 0 {
		cfg.MagicFillTimeout = DefaultConfig().MagicFillTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{loader: loader, detector: detector, extender: extender, cfg: cfg, log: logger}
}

// RenderPlan resolves p against inv and renders it.
func (e *Engine) RenderPlan(ctx context.Context, p plan.Plan, inv plan.Inventory) (Result, error) {
	segs, err := Resolve(p, inv)
	if err != nil {
		return Result{}, err
	}
	return e.Render(ctx, segs)
}

// job is the state of one render.
type job struct {
	*Engine
	segs    []Segment
	sources map[string]audio.Buffer

	out      audio.Buffer
	prevClip audio.Buffer // the last clip as it appears at the end of out
	fade     int          // pending crossfade length in frames
	res      Result
}

// Render walks segs in order and returns the assembled audio. A clip
// whose asset is missing or whose range falls outside the asset fails the
// whole render with plan.ErrRenderFailure. Beatsync and magicfill
// failures become Degradations.
func (e *Engine) Render(ctx context.Context, segs []Segment) (Result, error) {
	j := &job{Engine: e, segs: segs, sources: make(map[string]audio.Buffer)}
	for i := 0; i < len(segs); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s := segs[i]
		if !s.IsTransition() {
			clip, err := j.clip(ctx, i)
			if err != nil {
				return Result{}, err
			}
			j.appendClip(clip)
			continue
		}

		op := *s.Transition
		switch op.Kind {
		case plan.Silence:
			j.silence(op.Duration)
		case plan.Crossfade:
			j.fade = min(audio.FramesFor(op.Duration), j.out.Frames()/2)
		case plan.BeatSync:
			skip, err := j.beatSync(ctx, i, op)
			if err != nil {
				return Result{}, err
			}
			if skip {
				i++
			}
		case plan.MagicFill:
			j.magicFill(ctx, i, op)
		default:
			return Result{}, fmt.Errorf("%w: segment %d: unknown transition %q", plan.ErrRenderFailure, i, op.Kind)
		}
	}

	// a trailing crossfade has nothing to fade into
	if j.fade > 0 {
		j.out = audio.FadeOut(j.out, j.fade)
	}
	j.res.Buffer = j.out

	e.log.Info("render complete",
		zap.Int("segments", len(segs)),
		zap.Float64("seconds", j.out.Seconds()),
		zap.Int("degraded", len(j.res.Degradations)))
	return j.res, nil
}

// clip loads and slices the clip at position i.
func (j *job) clip(ctx context.Context, i int) (audio.Buffer, error) {
	s := j.segs[i]
	src, ok := j.sources[s.Source]
	if !ok {
		b, err := j.loader.Load(ctx, s.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d: load %s: %w", plan.ErrRenderFailure, i, s.Source, err)
		}
		src = b
		j.sources[s.Source] = b
	}
	if s.Start < 0 || s.End <= s.Start || s.End > src.Seconds()+rangeSlack {
		return nil, fmt.Errorf("%w: segment %d: range %.2f-%.2f outside %s (%.2fs)",
			plan.ErrRenderFailure, i, s.Start, s.End, s.Source, src.Seconds())
	}
	return src.Span(s.Start, s.End), nil
}

func (j *job) appendClip(clip audio.Buffer) {
	if j.fade > 0 {
		n := min(j.fade, clip.Frames()/2)
		j.out = audio.Overlap(j.out, clip, n)
		j.fade = 0
	} else {
		j.out = audio.Concat(j.out, clip)
	}
	j.prevClip = clip
}

func (j *job) silence(seconds float64) {
	j.insert(audio.Silence(seconds))
}

// insert appends non-clip material. A crossfade still pending fades the
// output out first, since there is no clip to fade into.
func (j *job) insert(b audio.Buffer) {
	if j.fade > 0 {
		j.out = audio.FadeOut(j.out, j.fade)
		j.fade = 0
	}
	j.out = audio.Concat(j.out, b)
	j.prevClip = nil
}

func (j *job) degrade(i int, op plan.TransitionOp, reason string, err error) {
	if err != nil {
		reason = reason + ": " + err.Error()
	}
	j.res.Degradations = append(j.res.Degradations, Degradation{
		Index: i, Requested: op.Kind, Used: plan.Silence, Reason: reason,
	})
	j.log.Warn("transition degraded to silence",
		zap.Int("index", i), zap.String("kind", string(op.Kind)), zap.String("reason", reason))
	j.silence(op.Duration)
}

// neighbourClip reports whether position i holds a clip.
func (j *job) neighbourClip(i int) bool {
	return i >= 0 && i < len(j.segs) && !j.segs[i].IsTransition()
}

// beatSync splices the previous clip at its next-to-last beat into the
// next clip at its second beat. It reports whether the next clip was
// consumed.
func (j *job) beatSync(ctx context.Context, i int, op plan.TransitionOp) (bool, error) {
	if !j.neighbourClip(i-1) || !j.neighbourClip(i+1) || j.prevClip == nil {
		j.degrade(i, op, "beatsync needs a clip on both sides", nil)
		return false, nil
	}
	if j.detector == nil {
		j.degrade(i, op, "no beat detector configured", nil)
		return false, nil
	}

	next, err := j.clip(ctx, i+1)
	if err != nil {
		return false, err
	}

	prevBeats, err := j.detector.Detect(j.prevClip.Mono(), audio.SampleRate)
	if err == nil && len(prevBeats.Times) < 2 {
		err = fmt.Errorf("previous clip: %d beats detected", len(prevBeats.Times))
	}
	if err != nil {
		j.degrade(i, op, "beat detection failed", err)
		return false, nil
	}
	nextBeats, err := j.detector.Detect(next.Mono(), audio.SampleRate)
	if err == nil && len(nextBeats.Times) < 2 {
		err = fmt.Errorf("next clip: %d beats detected", len(nextBeats.Times))
	}
	if err != nil {
		j.degrade(i, op, "beat detection failed", err)
		return false, nil
	}

	cut1 := prevBeats.Times[len(prevBeats.Times)-2]
	cut2 := nextBeats.Times[1]
	tempo := (analysis.PlausibleTempo(prevBeats.Tempo) + analysis.PlausibleTempo(nextBeats.Tempo)) / 2
	beats := op.Beats
	if beats <= 0 {
		beats = j.cfg.TransitionBeats
	}
	seconds := float64(beats) * 60 / tempo

	kept := j.prevClip.Head(audio.FramesFor(cut1))
	j.out = j.out.Head(j.out.Frames() - (j.prevClip.Frames() - kept.Frames()))
	incoming := next[min(audio.FramesFor(cut2), next.Frames())*audio.Channels:]

	n := min(audio.FramesFor(seconds), kept.Frames(), incoming.Frames())
	j.out = audio.Overlap(j.out, incoming, n)
	j.prevClip = incoming
	j.fade = 0

	j.log.Debug("beatsync",
		zap.Int("index", i),
		zap.Float64("cut_out", cut1),
		zap.Float64("cut_in", cut2),
		zap.Float64("tempo", tempo),
		zap.Float64("overlap_s", float64(n)/audio.SampleRate))
	return true, nil
}

// magicFill asks the extender to continue the previous clip and inserts
// only the newly generated audio.
func (j *job) magicFill(ctx context.Context, i int, op plan.TransitionOp) {
	if !j.neighbourClip(i-1) || j.prevClip == nil {
		j.degrade(i, op, "magicfill needs a preceding clip", nil)
		return
	}
	if j.extender == nil {
		j.degrade(i, op, "no audio extension service configured", nil)
		return
	}

	ref := j.prevClip.Tail(audio.FramesFor(ReferenceSeconds))
	ctx, cancel := context.WithTimeout(ctx, j.cfg.MagicFillTimeout)
	defer cancel()

	start := time.Now()
	ext, err := j.extender.Extend(ctx, ref, op.Duration)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: timed out after %s", plan.ErrExternalService, j.cfg.MagicFillTimeout)
	}
	if err == nil && ext.Frames() <= ref.Frames() {
		err = fmt.Errorf("result is %.2fs, no longer than the %.2fs reference", ext.Seconds(), ref.Seconds())
	}
	if err != nil {
		j.degrade(i, op, "magic fill failed", err)
		return
	}

	j.insert(ext[ref.Frames()*audio.Channels:].Fit(audio.FramesFor(op.Duration)))
	j.log.Info("magic fill inserted",
		zap.Int("index", i),
		zap.Float64("seconds", op.Duration),
		zap.Duration("took", time.Since(start)))
}
