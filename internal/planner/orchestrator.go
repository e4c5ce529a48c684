package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/llm"
	"github.com/satindergrewal/bigeyemix/internal/plan"
)

// Stage is where in an attempt a failure happened.
type Stage string

const (
	StageCompletion Stage = "completion"
	StageExtraction Stage = "extraction"
	StageParse      Stage = "parse"
	StageValidation Stage = "validation"
)

// AttemptFailure records why one attempt was rejected.
type AttemptFailure struct {
	Attempt  int      `json:"attempt"`
	Stage    Stage    `json:"stage"`
	Messages []string `json:"messages"`
	Err      error    `json:"-"`
}

// Feedback is the append-only log of failed attempts carried from one
// attempt to the next. With never modifies the receiver.
type Feedback []AttemptFailure

// With returns a new log with a appended.
func (f Feedback) With(a AttemptFailure) Feedback {
	out := make(Feedback, len(f), len(f)+1)
	copy(out, f)
	return append(out, a)
}

// Recent returns the last n problem messages across all attempts.
func (f Feedback) Recent(n int) []string {
	var all []string
	for _, a := range f {
		all = append(all, a.Messages...)
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Messages flattens every recorded problem, oldest first.
func (f Feedback) Messages() []string {
	var all []string
	for _, a := range f {
		for _, m := range a.Messages {
			all = append(all, fmt.Sprintf("attempt %d (%s): %s", a.Attempt+1, a.Stage, m))
		}
	}
	return all
}

// Err joins the underlying errors, or returns nil for an empty log.
func (f Feedback) Err() error {
	errs := make([]error, 0, len(f))
	for _, a := range f {
		errs = append(errs, a.Err)
	}
	return errors.Join(errs...)
}

// Result is a plan plus how it was obtained.
type Result struct {
	Plan plan.Plan
	// Attempt is the zero-based attempt that produced Plan; -1 when the
	// plan came from the rule-based synthesizer.
	Attempt  int
	Fallback bool
	Failures Feedback
}

// Config bounds the retry loop.
type Config struct {
	MaxRetries    int
	Timeout       time.Duration // per interactive attempt
	StreamTimeout time.Duration // per streamed attempt
	Temperature   float64
}

// DefaultConfig matches the interactive endpoint: three attempts, each
// bounded to 45 seconds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		Timeout:       45 * time.Second,
		StreamTimeout: 3 * time.Minute,
	}
}

// Orchestrator drafts plans with a completion service, validating and
// retrying with feedback, and falls back to Synthesize when the service
// is missing or every attempt failed.
type Orchestrator struct {
	completer llm.Completer
	cfg       Config
	log       *zap.Logger
}

// New creates an orchestrator. completer may be nil, in which case every
// request is served by the rule-based synthesizer.
func New(completer llm.Completer, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{completer: completer, cfg: cfg, log: logger}
}

// Generate produces a validated plan for text against inv.
func (o *Orchestrator) Generate(ctx context.Context, text string, inv plan.Inventory) (Result, error) {
	return o.run(ctx, text, inv, nil)
}

// GenerateStream is Generate with reasoning and content deltas reported
// through onDelta as they arrive. Services that cannot stream report the
// whole answer as one content delta.
func (o *Orchestrator) GenerateStream(ctx context.Context, text string, inv plan.Inventory, onDelta func(llm.Delta)) (Result, error) {
	if onDelta == nil {
		onDelta = func(llm.Delta) {}
	}
	return o.run(ctx, text, inv, onDelta)
}

func (o *Orchestrator) run(ctx context.Context, text string, inv plan.Inventory, onDelta func(llm.Delta)) (Result, error) {
	if o.completer == nil {
		o.log.Info("no completion service configured, synthesizing plan")
		return o.fallback(text, inv, nil)
	}

	var feedback Feedback
	for n := 0; n < o.cfg.MaxRetries; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempt: -1, Failures: feedback}, err
		}

		p, failure := o.attempt(ctx, n, text, inv, feedback, onDelta)
		if failure == nil {
			o.log.Info("plan accepted",
				zap.Int("attempt", n+1),
				zap.Int("instructions", len(p.Ops)),
				zap.Float64("estimated_duration", p.EstimatedDuration))
			return Result{Plan: p, Attempt: n, Failures: feedback}, nil
		}

		o.log.Warn("plan attempt rejected",
			zap.Int("attempt", n+1),
			zap.Int("max_retries", o.cfg.MaxRetries),
			zap.String("stage", string(failure.Stage)),
			zap.Strings("problems", failure.Messages))
		feedback = feedback.With(*failure)
	}

	return o.fallback(text, inv, feedback)
}

// attempt runs one prompt-complete-extract-parse-validate pass.
func (o *Orchestrator) attempt(ctx context.Context, n int, text string, inv plan.Inventory, feedback Feedback, onDelta func(llm.Delta)) (plan.Plan, *AttemptFailure) {
	fail := func(stage Stage, err error, msgs ...string) *AttemptFailure {
		if len(msgs) == 0 {
			msgs = []string{err.Error()}
		}
		return &AttemptFailure{Attempt: n, Stage: stage, Messages: msgs, Err: err}
	}

	timeout := o.cfg.Timeout
	if onDelta != nil && o.cfg.StreamTimeout > 0 {
		timeout = o.cfg.StreamTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := llm.Request{
		System:      systemPrompt,
		Prompt:      BuildPrompt(text, inv, feedback),
		Temperature: o.cfg.Temperature,
		JSON:        true,
	}

	var raw string
	var err error
	if s, ok := o.completer.(llm.Streamer); ok && onDelta != nil {
		raw, err = s.Stream(ctx, req, onDelta)
	} else {
		raw, err = o.completer.Complete(ctx, req)
		if err == nil && onDelta != nil {
			onDelta(llm.Delta{Content: raw})
		}
	}
	if err != nil {
		return plan.Plan{}, fail(StageCompletion, fmt.Errorf("%w: %v", plan.ErrExternalService, err))
	}

	jsonText, ok := Extract(raw)
	if !ok {
		return plan.Plan{}, fail(StageExtraction, plan.ErrExtraction,
			"the response did not contain a JSON object; answer with the JSON object only")
	}

	p, err := plan.Parse(jsonText)
	if err != nil {
		return plan.Plan{}, fail(StageParse, err)
	}

	if err := plan.Validate(p, inv); err != nil {
		var vs plan.Violations
		if errors.As(err, &vs) {
			return plan.Plan{}, fail(StageValidation, err, vs.Messages()...)
		}
		return plan.Plan{}, fail(StageValidation, err)
	}
	return p, nil
}

func (o *Orchestrator) fallback(text string, inv plan.Inventory, feedback Feedback) (Result, error) {
	p, err := Synthesize(text, inv)
	if err != nil {
		return Result{Attempt: -1, Fallback: true, Failures: feedback}, errors.Join(err, feedback.Err())
	}
	if len(feedback) > 0 {
		o.log.Warn("completion attempts exhausted, using synthesized plan", zap.Int("attempts", len(feedback)))
	}
	return Result{Plan: p, Attempt: -1, Fallback: true, Failures: feedback}, nil
}
