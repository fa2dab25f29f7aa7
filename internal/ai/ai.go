package ai

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the Text Analysis Provider: free-text prompt in, free text out. Callers own
// every structural check on the output.
type Adapter interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationConfig mirrors the sampling knobs the provider accepts.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{Temperature: 0.3, TopP: 0.8, MaxOutputTokens: 1000}
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (r RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", r.RetryAfter)
	}
	return "rate limited"
}
