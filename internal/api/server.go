// Package api is the HTTP request layer over plan generation, rendering,
// the transition advisor and the live preview.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/advisor"
	"github.com/satindergrewal/bigeyemix/internal/audio"
	"github.com/satindergrewal/bigeyemix/internal/llm"
	"github.com/satindergrewal/bigeyemix/internal/plan"
	"github.com/satindergrewal/bigeyemix/internal/planner"
	"github.com/satindergrewal/bigeyemix/internal/render"
)

// Planner drafts edit plans.
type Planner interface {
	Generate(ctx context.Context, text string, inv plan.Inventory) (planner.Result, error)
	GenerateStream(ctx context.Context, text string, inv plan.Inventory, onDelta func(llm.Delta)) (planner.Result, error)
}

// Renderer assembles a plan into audio.
type Renderer interface {
	RenderPlan(ctx context.Context, p plan.Plan, inv plan.Inventory) (render.Result, error)
}

// Exporter stores rendered audio and finds it again by id.
type Exporter interface {
	Export(ctx context.Context, b audio.Buffer) (id, path string, err error)
	Path(id string) string
}

// Advisor rates transitions between two clips.
type Advisor interface {
	Analyze(ctx context.Context, from, to advisor.Clip, kind plan.Kind) advisor.Analysis
	Recommend(ctx context.Context, from, to advisor.Clip, preference plan.Kind) advisor.Analysis
}

// Previewer queues rendered mixes onto the live preview.
type Previewer interface {
	Enqueue(it audio.Item) bool
	QueueSize() int
}

// Deps are the collaborators behind the routes. Preview may be nil, which
// disables /api/preview.
type Deps struct {
	Planner  Planner
	Renderer Renderer
	Exporter Exporter
	Advisor  Advisor
	Preview  Previewer

	UploadDir   string
	StageDir    string
	CORSOrigins []string

	// Health is merged into the /api/health response.
	Health func() map[string]any
}

// Server routes API requests.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	log  *zap.Logger
}

// New builds the server and registers its routes.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), log: logger}

	s.mux.HandleFunc("POST /api/ai/splice", s.handleSplice)
	s.mux.HandleFunc("POST /api/ai/splice/stream", s.handleSpliceStream)
	s.mux.HandleFunc("POST /api/render", s.handleRender)
	s.mux.HandleFunc("GET /api/outputs/{id}", s.handleOutput)
	s.mux.HandleFunc("POST /api/transition/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/transition/recommend", s.handleRecommend)
	s.mux.HandleFunc("POST /api/preview/{id}", s.handlePreview)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if deps.StageDir != "" {
		s.mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.StageDir))))
	}
	return s
}

// Handle registers an extra handler, such as the preview streams.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the routes wrapped with panic recovery and CORS.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.withRecover(s.mux))
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic in handler",
					zap.String("path", r.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowed(origin string) bool {
	return slices.Contains(s.deps.CORSOrigins, "*") || slices.Contains(s.deps.CORSOrigins, origin)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, plan.ErrStructural),
		errors.Is(err, plan.ErrUnknownTrack),
		errors.Is(err, plan.ErrUnknownClip),
		errors.Is(err, plan.ErrClipOutOfRange),
		errors.Is(err, plan.ErrDurationMismatch),
		errors.Is(err, plan.ErrRenderFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, plan.ErrExternalService):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// assetPath maps an uploaded file id to its place under the upload
// directory. Ids never escape it.
func (s *Server) assetPath(fileID string) string {
	name := filepath.Base(strings.TrimSpace(fileID))
	if name == "." || name == "/" || name == ".." || name == "" {
		return ""
	}
	return filepath.Join(s.deps.UploadDir, name)
}

// withPaths fills in each track's decoded source path.
func (s *Server) withPaths(inv plan.Inventory) plan.Inventory {
	out := plan.Inventory{Tracks: make([]plan.Track, len(inv.Tracks))}
	for i, t := range inv.Tracks {
		if t.FileID != "" {
			t.Path = s.assetPath(t.FileID)
		}
		out.Tracks[i] = t
	}
	return out
}
