package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	model       = "Qubico/ace-step"
	taskExtend  = "extend"
	instLyrics  = "[inst]"
	defaultPoll = time.Second
	maxPolls    = 180
)

// ErrTaskFailed is returned when the service reports a failed task.
var ErrTaskFailed = errors.New("ace-step task failed")

// Client talks to the PiAPI ACE-Step task API.
type Client struct {
	baseURL  string
	apiKey   string
	interval time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewClient creates an ACE-Step API client. interval is the poll period
// while a task runs; perMinute caps outgoing requests (zero disables).
func NewClient(baseURL, apiKey string, interval time.Duration, perMinute int, logger *zap.Logger) *Client {
	if interval <= 0 {
		interval = defaultPoll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		interval: interval,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  limiter,
		log:      logger,
	}
}

// ExtendRequest asks for new audio continuing a reference clip.
type ExtendRequest struct {
	AudioURL     string
	RightSeconds float64
	StylePrompt  string
}

type extendInput struct {
	Audio               string `json:"audio"`
	RightExtendDuration int    `json:"right_extend_duration"`
	LeftExtendDuration  int    `json:"left_extend_duration"`
	StylePrompt         string `json:"style_prompt"`
	Lyrics              string `json:"lyrics"`
	NegativeStylePrompt string `json:"negative_style_prompt"`
}

type taskRequest struct {
	Model    string      `json:"model"`
	TaskType string      `json:"task_type"`
	Input    extendInput `json:"input"`
}

type taskResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
		Output struct {
			AudioURL string `json:"audio_url"`
		} `json:"output"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"data"`
}

// Submit creates an extend task and returns its id.
func (c *Client) Submit(ctx context.Context, req ExtendRequest) (string, error) {
	body, err := json.Marshal(taskRequest{
		Model:    model,
		TaskType: taskExtend,
		Input: extendInput{
			Audio:               req.AudioURL,
			RightExtendDuration: int(math.Ceil(req.RightSeconds)),
			StylePrompt:         req.StylePrompt,
			Lyrics:              instLyrics,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result taskResp
	if err := c.do(ctx, "POST", "/api/v1/task", body, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("submit task: no task id in response (code %d): %s", result.Code, result.Message)
	}

	c.log.Info("ace-step task submitted", zap.String("task_id", result.Data.TaskID),
		zap.Float64("seconds", req.RightSeconds))
	return result.Data.TaskID, nil
}

// PollUntilDone polls for task completion, returning the result audio URL.
// Transient poll errors are logged and retried until ctx ends.
func (c *Client) PollUntilDone(ctx context.Context, taskID string) (string, error) {
	for i := 0; i < maxPolls; i++ {
		var result taskResp
		err := c.do(ctx, "GET", "/api/v1/task/"+taskID, nil, &result)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			c.log.Warn("ace-step poll failed, retrying", zap.String("task_id", taskID), zap.Error(err))
		case strings.EqualFold(result.Data.Status, "completed"):
			if result.Data.Output.AudioURL == "" {
				return "", fmt.Errorf("task %s: no audio in output", taskID)
			}
			return result.Data.Output.AudioURL, nil
		case strings.EqualFold(result.Data.Status, "failed"):
			msg := result.Data.Error.Message
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("%w: task %s: %s", ErrTaskFailed, taskID, msg)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return "", fmt.Errorf("task %s: still running after %d polls", taskID, maxPolls)
}

// Extend submits a task and waits for its result URL.
func (c *Client) Extend(ctx context.Context, req ExtendRequest) (string, error) {
	taskID, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return c.PollUntilDone(ctx, taskID)
}

// Download fetches url into dir under a fresh name and returns the path.
func (c *Client) Download(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 {
		ext = ".mp3"
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close file: %w", err)
	}
	return path, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
