package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satindergrewal/bigeyemix/internal/acestep"
	"github.com/satindergrewal/bigeyemix/internal/advisor"
	"github.com/satindergrewal/bigeyemix/internal/analysis"
	"github.com/satindergrewal/bigeyemix/internal/api"
	"github.com/satindergrewal/bigeyemix/internal/audio"
	"github.com/satindergrewal/bigeyemix/internal/config"
	"github.com/satindergrewal/bigeyemix/internal/llm"
	"github.com/satindergrewal/bigeyemix/internal/ollama"
	"github.com/satindergrewal/bigeyemix/internal/planner"
	"github.com/satindergrewal/bigeyemix/internal/render"
	"github.com/satindergrewal/bigeyemix/internal/stream"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	if cfg.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(cfg.ConfigFile, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no .env file loaded, using the environment", zap.Error(envErr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir, cfg.StageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("create data dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	logger.Info("bigeyemix starting up...")

	// Completion service (optional: plans fall back to the rule-based synthesizer)
	var completer llm.Completer
	var model string
	switch {
	case cfg.LLMAPIKey != "":
		completer = llm.NewOpenAI(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMPerMinute)
		model = cfg.LLMModel
		logger.Info("completion service configured", zap.String("base_url", cfg.LLMBaseURL), zap.String("model", model))
	case cfg.OllamaModel != "":
		client := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
		readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
		if client.WaitForReady(readyCtx) {
			completer = client
			model = cfg.OllamaModel
			logger.Info("ollama connected", zap.String("model", model))
		} else {
			logger.Warn("ollama not available, plans will be synthesized", zap.String("url", cfg.OllamaURL))
		}
		readyCancel()
	default:
		logger.Info("no completion service configured (set LLM_API_KEY or OLLAMA_MODEL), plans will be synthesized")
	}

	orchestrator := planner.New(completer, planner.Config{
		MaxRetries:    cfg.MaxRetries,
		Timeout:       cfg.CompletionTimeout,
		StreamTimeout: cfg.StreamTimeout,
		Temperature:   0.3,
	}, logger.Named("planner"))

	// Magic fill (optional: degrades to silence)
	var extender render.Extender
	if cfg.PiAPIKey != "" {
		client := acestep.NewClient(cfg.PiAPIURL, cfg.PiAPIKey, cfg.PollInterval, cfg.PiAPIPerMinute, logger.Named("acestep"))
		extender = acestep.NewExtender(client, cfg.StageDir, cfg.PublicBaseURL, cfg.MP3Bitrate, logger.Named("acestep"))
		logger.Info("magic fill enabled", zap.String("public_url", cfg.PublicBaseURL))
	} else {
		logger.Info("magic fill not configured (set PIAPI_KEY), magicfill transitions render as silence")
	}

	detector := analysis.DSP{}
	engine := render.NewEngine(render.FileLoader, detector, extender, render.Config{
		TransitionBeats:  cfg.TransitionBeats,
		MagicFillTimeout: cfg.MagicFillTimeout,
	}, logger.Named("render"))
	exporter := render.NewExporter(cfg.OutputDir, cfg.MP3Bitrate)
	adv := advisor.New(render.FileLoader, detector, logger.Named("advisor"))

	// Preview: player -> broadcaster -> HTTP/WebRTC listeners
	player := audio.NewPlayer(logger.Named("preview"))
	go player.Run(ctx)

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, player.Frames())

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, stream.DefaultOpusBitrate, logger.Named("webrtc"))

	server := api.New(api.Deps{
		Planner:     orchestrator,
		Renderer:    engine,
		Exporter:    exporter,
		Advisor:     adv,
		Preview:     player,
		UploadDir:   cfg.UploadDir,
		StageDir:    cfg.StageDir,
		CORSOrigins: cfg.CORSOrigins,
		Health: func() map[string]any {
			item, pos, dur := player.Status()
			return map[string]any{
				"llm_model":        model,
				"magic_fill":       extender != nil,
				"preview_item":     item.ID,
				"preview_position": pos.Seconds(),
				"preview_duration": dur.Seconds(),
				"preview_queue":    player.QueueSize(),
				"http_listeners":   broadcaster.ListenerCount(),
				"webrtc_listeners": webrtcHandler.PeerCount(),
			}
		},
	}, logger.Named("api"))

	server.Handle("GET /stream", stream.NewHTTPHandler(broadcaster, "192k", logger.Named("stream")))
	server.Handle("POST /offer", webrtcHandler)
	server.Handle("POST /api/preview/skip", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player.Skip()
		w.WriteHeader(http.StatusNoContent)
	}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down...")
		webrtcHandler.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("bigeyemix live", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("HTTP server error", zap.Error(err))
	}
}

// newLogger builds a production JSON logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
