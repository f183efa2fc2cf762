package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/logging"
	"github.com/pbaille/reads/internal/metrics"
)

// ErrAnalyzerUnavailable is returned while the analyzer circuit is open
var ErrAnalyzerUnavailable = errors.New("text analyzer unavailable")

// GuardConfig tunes the analyzer circuit breaker
type GuardConfig struct {
	Failures uint32        // consecutive failures that open the circuit
	Timeout  time.Duration // time the circuit stays open
}

// Guard protects an Analyzer with a circuit breaker and records call metrics
type Guard struct {
	name string
	next Analyzer
	cb   *gobreaker.CircuitBreaker[domain.ConceptVector]
}

// NewGuard wraps next; name labels logs and metrics
func NewGuard(name string, next Analyzer, cfg GuardConfig) *Guard {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := logging.With().Str("component", "analyzer").Str("backend", name).Logger()

	settings := gobreaker.Settings{
		Name:        "analyzer-" + name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the backend
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("analyzer circuit state changed")
		},
	}
	metrics.BreakerState.WithLabelValues(settings.Name).Set(float64(gobreaker.StateClosed))

	return &Guard{
		name: name,
		next: next,
		cb:   gobreaker.NewCircuitBreaker[domain.ConceptVector](settings),
	}
}

// Analyze calls the wrapped analyzer unless the circuit is open
func (g *Guard) Analyze(ctx context.Context, text string) (domain.ConceptVector, error) {
	start := time.Now()
	vec, err := g.cb.Execute(func() (domain.ConceptVector, error) {
		return g.next.Analyze(ctx, text)
	})
	metrics.ObserveAnalyzer(g.name, err, time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	return vec, err
}

// State reports the breaker state
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}
