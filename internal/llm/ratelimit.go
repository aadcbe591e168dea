package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited caps the request rate of a Generator shared by all sessions.
type RateLimited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of perSecond and burst.
func NewRateLimited(next Generator, perSecond float64, burst int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Generate waits for a token, then delegates. A caller deadline that expires
// while waiting is returned as an error.
func (r *RateLimited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		generateTotal.WithLabelValues("throttled").Inc()
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}
	return r.next.Generate(ctx, prompt)
}
