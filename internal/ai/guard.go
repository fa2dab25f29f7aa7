package ai

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mykrex/dimeloc-backend/internal/metrics"
)

type GuardOptions struct {
	Name             string
	Timeout          time.Duration
	RatePerSecond    float64
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Guarded bounds every provider call: one attempt, a hard timeout, request pacing, and a
// circuit breaker that short-circuits to an error while the provider is failing. It never
// retries.
type Guarded struct {
	next    Adapter
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  zerolog.Logger
}

func NewGuarded(next Adapter, opts GuardOptions, logger zerolog.Logger) *Guarded {
	if opts.Name == "" {
		opts.Name = "text-analysis-provider"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	g := &Guarded{next: next, timeout: opts.Timeout, logger: logger}
	if opts.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	metrics.BreakerState.WithLabelValues(opts.Name).Set(0)
	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("provider circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return g
}

func (g *Guarded) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.ProviderCalls.WithLabelValues("rate_limited").Inc()
			return "", err
		}
	}

	start := time.Now()
	out, err := g.breaker.Execute(func() (string, error) {
		return g.next.Generate(ctx, prompt)
	})
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	metrics.ProviderCalls.WithLabelValues(outcome(ctx, err)).Inc()
	return out, err
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string {
	return g.breaker.State().String()
}

func outcome(ctx context.Context, err error) string {
	var rl RateLimitError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
