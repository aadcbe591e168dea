// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	UploadDir       string
	ContentPath     string // optional YAML override of the built-in content
	AllowedOrigins  []string
	SessionTTL      time.Duration // 0 = sessions are never evicted
	ShutdownTimeout time.Duration
	Analysis        AnalysisConfig
	LLM             LLMConfig
	Health          HealthConfig
}

// AnalysisConfig locates the analysis backends and bounds each tier.
type AnalysisConfig struct {
	RemoteURL         string // tunnel-exposed service; empty disables the tier
	LocalURL          string
	RemoteTimeout     time.Duration
	LocalTimeout      time.Duration
	GenerativeTimeout time.Duration
}

// Budget is the wall-clock ceiling of one analysis: the sum of its tier timeouts.
func (a AnalysisConfig) Budget() time.Duration {
	return a.RemoteTimeout + a.LocalTimeout + a.GenerativeTimeout
}

// LLMConfig configures the generative text backend.
type LLMConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	RatePerSecond float64
	Burst         int
}

// Enabled reports whether generative features have credentials.
func (l LLMConfig) Enabled() bool {
	return l.APIKey != ""
}

// HealthConfig controls the backend health checker and its gRPC health endpoint.
type HealthConfig struct {
	GRPCAddr      string // empty disables the gRPC health server
	CheckInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	apiKey := getEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("LLM_API_KEY", "")
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		DBPath:          getEnv("DB_PATH", "./data/app.db"),
		UploadDir:       getEnv("UPLOAD_DIR", "./data/uploads"),
		ContentPath:     getEnv("CONTENT_PATH", ""),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		SessionTTL:      getEnvDuration("SESSION_TTL", 0),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Analysis: AnalysisConfig{
			RemoteURL:         strings.TrimSuffix(getEnv("REMOTE_ANALYSIS_URL", ""), "/"),
			LocalURL:          strings.TrimSuffix(getEnv("MODEL_SERVER_URL", "http://127.0.0.1:8001"), "/"),
			RemoteTimeout:     getEnvDuration("REMOTE_TIMEOUT", 30*time.Second),
			LocalTimeout:      getEnvDuration("LOCAL_TIMEOUT", 20*time.Second),
			GenerativeTimeout: getEnvDuration("GENERATIVE_TIMEOUT", 20*time.Second),
		},
		LLM: LLMConfig{
			APIKey:        apiKey,
			BaseURL:       getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			Model:         getEnv("LLM_MODEL", "gemini-2.0-flash"),
			RatePerSecond: getEnvFloat("LLM_RATE_PER_SECOND", 2),
			Burst:         getEnvInt("LLM_BURST", 4),
		},
		Health: HealthConfig{
			GRPCAddr:      getEnv("GRPC_HEALTH_ADDR", ":9090"),
			CheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}
	if c.Analysis.RemoteTimeout <= 0 || c.Analysis.LocalTimeout <= 0 || c.Analysis.GenerativeTimeout <= 0 {
		return fmt.Errorf("analysis tier timeouts must be > 0")
	}
	if c.LLM.RatePerSecond <= 0 {
		return fmt.Errorf("LLM_RATE_PER_SECOND must be > 0")
	}
	if c.LLM.Burst <= 0 {
		return fmt.Errorf("LLM_BURST must be > 0")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL cannot be negative")
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
