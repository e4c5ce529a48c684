package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/advisor"
	"github.com/satindergrewal/bigeyemix/internal/audio"
	"github.com/satindergrewal/bigeyemix/internal/llm"
	"github.com/satindergrewal/bigeyemix/internal/plan"
	"github.com/satindergrewal/bigeyemix/internal/planner"
	"github.com/satindergrewal/bigeyemix/internal/render"
)

type spliceRequest struct {
	UserDescription string       `json:"user_description"`
	Tracks          []plan.Track `json:"tracks"`
}

type spliceResponse struct {
	Success bool `json:"success"`
	plan.Plan
	Fallback bool     `json:"fallback"`
	Attempts int      `json:"attempts"`
	Problems []string `json:"problems,omitempty"`
}

func newSpliceResponse(res planner.Result) spliceResponse {
	attempts := res.Attempt + 1
	if res.Fallback {
		attempts = len(res.Failures)
	}
	return spliceResponse{
		Success:  true,
		Plan:     res.Plan,
		Fallback: res.Fallback,
		Attempts: attempts,
		Problems: res.Failures.Messages(),
	}
}

func (s *Server) readSplice(w http.ResponseWriter, r *http.Request) (spliceRequest, bool) {
	var req spliceRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, false
	}
	if strings.TrimSpace(req.UserDescription) == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_description is required"))
		return req, false
	}
	if len(req.Tracks) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one track is required"))
		return req, false
	}
	return req, true
}

func (s *Server) handleSplice(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readSplice(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Planner.Generate(r.Context(), req.UserDescription, plan.Inventory{Tracks: req.Tracks})
	if err != nil {
		s.log.Warn("splice failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newSpliceResponse(res))
}

// --- SSE ---

type streamEvent struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Result  *spliceResponse `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

// handleSpliceStream is handleSplice with the model's reasoning and
// answer relayed as server-sent events, ending with a result event and
// a [DONE] sentinel.
func (s *Server) handleSpliceStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	req, ok := s.readSplice(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	res, err := s.deps.Planner.GenerateStream(r.Context(), req.UserDescription, plan.Inventory{Tracks: req.Tracks},
		func(d llm.Delta) {
			if d.Reasoning != "" {
				sendEvent(w, flusher, streamEvent{Type: "reasoning", Content: d.Reasoning})
			}
			if d.Content != "" {
				sendEvent(w, flusher, streamEvent{Type: "content", Content: d.Content})
			}
		})
	if err != nil {
		s.log.Warn("streamed splice failed", zap.Error(err))
		sendEvent(w, flusher, streamEvent{Type: "error", Error: err.Error()})
	} else {
		resp := newSpliceResponse(res)
		sendEvent(w, flusher, streamEvent{Type: "result", Result: &resp})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// --- render ---

type renderRequest struct {
	Plan   plan.Plan    `json:"plan"`
	Tracks []plan.Track `json:"tracks"`
}

type renderResponse struct {
	Success      bool                 `json:"success"`
	OutputID     string               `json:"output_id"`
	URL          string               `json:"url"`
	Duration     float64              `json:"duration"`
	Degraded     bool                 `json:"degraded"`
	Degradations []render.Degradation `json:"degradations,omitempty"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Plan.Ops) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("plan has no instructions"))
		return
	}

	inv := s.withPaths(plan.Inventory{Tracks: req.Tracks})
	res, err := s.deps.Renderer.RenderPlan(r.Context(), req.Plan, inv)
	if err != nil {
		s.log.Warn("render failed", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}

	id, _, err := s.deps.Exporter.Export(r.Context(), res.Buffer)
	if err != nil {
		s.log.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("mix rendered",
		zap.String("output_id", id),
		zap.Float64("duration", res.Buffer.Seconds()),
		zap.Int("degradations", len(res.Degradations)))

	writeJSON(w, http.StatusOK, renderResponse{
		Success:      true,
		OutputID:     id,
		URL:          "/api/outputs/" + id,
		Duration:     res.Buffer.Seconds(),
		Degraded:     res.Degraded(),
		Degradations: res.Degradations,
	})
}

func (s *Server) outputPath(w http.ResponseWriter, id string) (string, bool) {
	path := s.deps.Exporter.Path(id)
	if path == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("output %q not found", id))
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("output %q not found", id))
		return "", false
	}
	return path, true
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, ok := s.outputPath(w, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp3"`, id))
	http.ServeFile(w, r, path)
}

// --- transitions ---

type clipRequest struct {
	FileID string  `json:"file_id"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

type transitionRequest struct {
	From       clipRequest `json:"from"`
	To         clipRequest `json:"to"`
	Kind       plan.Kind   `json:"kind"`
	Preference plan.Kind   `json:"preference"`
}

func (s *Server) clip(c clipRequest) (advisor.Clip, error) {
	path := s.assetPath(c.FileID)
	if path == "" {
		return advisor.Clip{}, errors.New("file_id is required")
	}
	if c.Start < 0 || (c.End != 0 && c.End <= c.Start) {
		return advisor.Clip{}, fmt.Errorf("invalid range %.2f-%.2f", c.Start, c.End)
	}
	return advisor.Clip{Path: path, Start: c.Start, End: c.End}, nil
}

func (s *Server) readTransition(w http.ResponseWriter, r *http.Request) (advisor.Clip, advisor.Clip, transitionRequest, bool) {
	var req transitionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return advisor.Clip{}, advisor.Clip{}, req, false
	}
	from, err := s.clip(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return advisor.Clip{}, advisor.Clip{}, req, false
	}
	to, err := s.clip(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return advisor.Clip{}, advisor.Clip{}, req, false
	}
	return from, to, req, true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	from, to, req, ok := s.readTransition(w, r)
	if !ok {
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown transition kind %q", req.Kind))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Advisor.Analyze(r.Context(), from, to, req.Kind))
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	from, to, req, ok := s.readTransition(w, r)
	if !ok {
		return
	}
	if req.Preference != "" && !req.Preference.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown transition kind %q", req.Preference))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Advisor.Recommend(r.Context(), from, to, req.Preference))
}

// --- preview ---

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preview == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("preview is disabled"))
		return
	}
	id := r.PathValue("id")
	path, ok := s.outputPath(w, id)
	if !ok {
		return
	}
	if !s.deps.Preview.Enqueue(audio.Item{ID: id, Name: id + ".mp3", Path: path}) {
		writeError(w, http.StatusTooManyRequests, errors.New("preview queue is full"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"queue_size": s.deps.Preview.QueueSize(),
		"stream":     "/stream",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}
