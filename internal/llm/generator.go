// Package llm provides the generative text backend used for task generation,
// chat questions, per-answer heuristics and final summaries.
package llm

import (
	"context"
	"log/slog"

	"github.com/ashureev/childassess/internal/config"
)

// Generator produces free-form text for a prompt. Replies carry no structural
// contract; callers extract JSON with the helpers in this package.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New builds the configured generator, rate limited.
// It returns nil when no credentials are configured; callers treat a nil
// Generator as an absent backend and skip generative steps.
func New(cfg config.LLMConfig) Generator {
	if !cfg.Enabled() {
		slog.Info("No generative API key configured, generative features disabled")
		return nil
	}
	slog.Info("Initializing generative client", "model", cfg.Model, "base_url", cfg.BaseURL)
	return NewRateLimited(NewOpenAIClient(cfg), cfg.RatePerSecond, cfg.Burst)
}
