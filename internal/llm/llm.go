// Package llm defines the completion capability used to draft edit plans,
// and an OpenAI-compatible implementation of it.
package llm

import "context"

// Request is one prompt sent to a completion service.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	JSON        bool // ask for a single JSON object where the service supports it
}

// Delta is an incremental piece of a streamed response. Reasoning carries
// the model's visible thinking, Content the answer itself.
type Delta struct {
	Reasoning string `json:"reasoning,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Completer returns the full text of one completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Streamer is a Completer that can also stream deltas as they arrive.
// Stream returns the concatenated content once the service signals done.
type Streamer interface {
	Completer
	Stream(ctx context.Context, req Request, onDelta func(Delta)) (string, error)
}
