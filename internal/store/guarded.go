package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/social-trends-api/internal/metrics"
	"github.com/social-trends-api/internal/model"
)

// BreakerSettings configures the circuit breaker in front of the auth store.
type BreakerSettings struct {
	// FailureRatio trips the breaker once this share of requests in the
	// current window failed.
	FailureRatio float64
	// MinRequests is the smallest window that can trip the breaker.
	MinRequests uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureRatio: 0.5, MinRequests: 10, OpenTimeout: 15 * time.Second}
}

// Guarded wraps an AuthStore with a circuit breaker. While the breaker is open
// calls fail fast with ErrUnavailable instead of waiting on a sick database.
type Guarded struct {
	inner AuthStore
	cb    *gobreaker.CircuitBreaker[any]
}

var _ AuthStore = (*Guarded)(nil)

func NewGuarded(inner AuthStore, s BreakerSettings) *Guarded {
	metrics.StoreBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "auth-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A miss or a caller that went away says nothing about the database.
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", stateString(from)).Str("to", stateString(to)).Msg("circuit breaker state change")
			metrics.StoreBreakerState.Set(stateValue(to))
			metrics.StoreBreakerTransitions.WithLabelValues(stateString(from), stateString(to)).Inc()
		},
	})

	return &Guarded{inner: inner, cb: cb}
}

// State returns "closed", "half-open" or "open".
func (g *Guarded) State() string {
	return stateString(g.cb.State())
}

func (g *Guarded) FindActiveKey(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return guard(g, func() (*model.APIKey, error) { return g.inner.FindActiveKey(ctx, keyHash) })
}

func (g *Guarded) TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := guard(g, func() (struct{}, error) { return struct{}{}, g.inner.TouchKey(ctx, id, at) })
	return err
}

func (g *Guarded) AppendUsageEvent(ctx context.Context, event *model.UsageEvent) error {
	_, err := guard(g, func() (struct{}, error) { return struct{}{}, g.inner.AppendUsageEvent(ctx, event) })
	return err
}

func (g *Guarded) CountUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int64, error) {
	return guard(g, func() (int64, error) { return g.inner.CountUsageSince(ctx, apiKeyID, since) })
}

type meteredAppend struct {
	used     int64
	admitted bool
}

func (g *Guarded) AppendUsageEventWithinQuota(ctx context.Context, event *model.UsageEvent, since time.Time, limit int64) (int64, bool, error) {
	r, err := guard(g, func() (meteredAppend, error) {
		used, admitted, err := g.inner.AppendUsageEventWithinQuota(ctx, event, since, limit)
		return meteredAppend{used: used, admitted: admitted}, err
	})
	return r.used, r.admitted, err
}

func guard[T any](g *Guarded, fn func() (T, error)) (T, error) {
	var zero T
	result, err := g.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
