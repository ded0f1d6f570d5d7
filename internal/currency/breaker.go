package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

// BreakerConfig tunes the circuit breaker around a rate source.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration // how long the breaker stays open
	MaxRequests         uint32        // trial requests allowed while half-open
}

// DefaultBreakerConfig trips after five consecutive failures and tries again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, Timeout: 30 * time.Second, MaxRequests: 1}
}

// BreakerSource fails fast when the wrapped source keeps erroring.
// A missing rate is an answer, not a failure, and never trips the breaker.
type BreakerSource struct {
	next RateSource
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerSource wraps next with a circuit breaker.
func NewBreakerSource(next RateSource, cfg BreakerConfig, logger *zap.Logger) *BreakerSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "exchange-rates",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerSource{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSource) LatestRate(ctx context.Context, from, to string, on time.Time) (model.ExchangeRate, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LatestRate(ctx, from, to, on)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.ExchangeRate{}, fmt.Errorf("rate source unavailable: %w", err)
	}
	if err != nil {
		return model.ExchangeRate{}, err
	}
	return res.(model.ExchangeRate), nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerSource) State() string {
	return b.cb.State().String()
}
