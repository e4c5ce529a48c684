package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (DeepSeek, Moonshot, OpenAI itself).
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAI creates a client. perMinute caps outgoing requests; zero or
// less disables the limit. Retries are left to the plan orchestrator.
func NewOpenAI(baseURL, apiKey, model string, perMinute int) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: limiter,
	}
}

// Model returns the configured model name.
func (c *OpenAI) Model() string {
	return c.model
}

func (c *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Model:       c.model,
		Temperature: openai.Float(req.Temperature),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return params
}

// Complete sends one chat completion and returns the first choice's content.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// reasoningDelta picks the non-standard reasoning field some providers
// add to streamed deltas.
type reasoningDelta struct {
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

// Stream sends a streaming chat completion, reporting reasoning and
// content deltas as they arrive.
func (c *OpenAI) Stream(ctx context.Context, req Request, onDelta func(Delta)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	var content strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		var extra reasoningDelta
		if raw := delta.RawJSON(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &extra)
		}
		d := Delta{Reasoning: extra.ReasoningContent, Content: delta.Content}
		if d.Reasoning == "" {
			d.Reasoning = extra.Reasoning
		}
		if d.Reasoning == "" && d.Content == "" {
			continue
		}
		content.WriteString(d.Content)
		if onDelta != nil {
			onDelta(d)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	return content.String(), nil
}
