package plan

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExtraction       = errors.New("no parseable JSON in model response")
	ErrStructural       = errors.New("structurally invalid plan")
	ErrUnknownTrack     = errors.New("unknown track")
	ErrUnknownClip      = errors.New("unknown clip")
	ErrClipOutOfRange   = errors.New("clip range exceeds track")
	ErrDurationMismatch = errors.New("estimated duration mismatch")
	ErrExternalService  = errors.New("external service error")
	ErrRenderFailure    = errors.New("render failure")
)

// Code classifies a single validation violation.
type Code string

const (
	CodeStructural       Code = "structural_invalid"
	CodeUnknownTrack     Code = "unknown_track"
	CodeUnknownClip      Code = "unknown_clip"
	CodeClipOutOfRange   Code = "clip_out_of_range"
	CodeDurationMismatch Code = "duration_mismatch"
)

var codeErrors = map[Code]error{
	CodeStructural:       ErrStructural,
	CodeUnknownTrack:     ErrUnknownTrack,
	CodeUnknownClip:      ErrUnknownClip,
	CodeClipOutOfRange:   ErrClipOutOfRange,
	CodeDurationMismatch: ErrDurationMismatch,
}

// Violation is one problem found in a plan. Index is the position of the
// offending operation, or -1 when the problem concerns the whole plan.
type Violation struct {
	Code    Code   `json:"code"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Index < 0 {
		return v.Message
	}
	return fmt.Sprintf("instruction %d: %s", v.Index+1, v.Message)
}

// Is lets errors.Is match a violation against its sentinel.
func (v Violation) Is(target error) bool {
	return codeErrors[v.Code] == target
}

// Violations is the full list of problems found in one plan.
type Violations []Violation

func (vs Violations) Error() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes every violation to errors.Is and errors.As.
func (vs Violations) Unwrap() []error {
	errs := make([]error, len(vs))
	for i, v := range vs {
		errs[i] = v
	}
	return errs
}

// Has reports whether any violation carries the given code.
func (vs Violations) Has(code Code) bool {
	for _, v := range vs {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Messages returns each violation as a line of text.
func (vs Violations) Messages() []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Error()
	}
	return out
}
