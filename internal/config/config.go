package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Environment variables set the
// base values; an optional YAML file named by BIGEYEMIX_CONFIG overrides
// any key it mentions.
type Config struct {
	// Server
	Port          int      `yaml:"port"`
	PublicBaseURL string   `yaml:"public_base_url"` // how remote services reach /files/
	CORSOrigins   []string `yaml:"cors_origins"`
	LogLevel      string   `yaml:"log_level"`
	ConfigFile    string   `yaml:"-"`

	// Storage
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`
	StageDir  string `yaml:"stage_dir"` // magic fill references, served under /files/

	// Completion service: an OpenAI-compatible endpoint when LLMAPIKey is
	// set, otherwise Ollama when OllamaModel is set.
	LLMBaseURL   string `yaml:"llm_base_url"`
	LLMAPIKey    string `yaml:"llm_api_key"`
	LLMModel     string `yaml:"llm_model"`
	LLMPerMinute int    `yaml:"llm_per_minute"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`

	// Plan generation
	MaxRetries        int           `yaml:"max_retries"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	StreamTimeout     time.Duration `yaml:"stream_timeout"`

	// Magic fill (PiAPI ACE-Step)
	PiAPIURL         string        `yaml:"piapi_url"`
	PiAPIKey         string        `yaml:"piapi_key"`
	PiAPIPerMinute   int           `yaml:"piapi_per_minute"`
	MagicFillTimeout time.Duration `yaml:"magic_fill_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`

	// Rendering
	MP3Bitrate      string `yaml:"mp3_bitrate"`
	TransitionBeats int    `yaml:"transition_beats"`
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	port := envInt("BIGEYEMIX_PORT", 8000)
	return Config{
		Port:          port,
		PublicBaseURL: envStr("BIGEYEMIX_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port)),
		CORSOrigins:   envList("CORS_ORIGINS", "http://localhost:3000"),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		ConfigFile:    envStr("BIGEYEMIX_CONFIG", ""),

		UploadDir: envStr("UPLOAD_DIR", "./data/uploads"),
		OutputDir: envStr("OUTPUT_DIR", "./data/outputs"),
		StageDir:  envStr("STAGE_DIR", "./data/stage"),

		LLMBaseURL:   envStr("LLM_BASE_URL", "https://api.deepseek.com/v1"),
		LLMAPIKey:    envStr("LLM_API_KEY", ""),
		LLMModel:     envStr("LLM_MODEL", "deepseek-chat"),
		LLMPerMinute: envInt("LLM_PER_MINUTE", 60),
		OllamaURL:    envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:  envStr("OLLAMA_MODEL", ""),

		MaxRetries:        envInt("PLAN_MAX_RETRIES", 3),
		CompletionTimeout: envDuration("PLAN_TIMEOUT", 45*time.Second),
		StreamTimeout:     envDuration("PLAN_STREAM_TIMEOUT", 3*time.Minute),

		PiAPIURL:         envStr("PIAPI_BASE_URL", "https://api.piapi.ai"),
		PiAPIKey:         envStr("PIAPI_KEY", ""),
		PiAPIPerMinute:   envInt("PIAPI_PER_MINUTE", 120),
		MagicFillTimeout: envDuration("MAGIC_FILL_TIMEOUT", 3*time.Minute),
		PollInterval:     envDuration("MAGIC_FILL_POLL_INTERVAL", time.Second),

		MP3Bitrate:      envStr("MP3_BITRATE", "320k"),
		TransitionBeats: envInt("TRANSITION_BEATS", 4),
	}
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep their base value.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

func envList(key, fallback string) []string {
	var out []string
	for _, s := range strings.Split(envStr(key, fallback), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
