package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/social-trends-api/internal/model"
)

type flakyAuthStore struct {
	err   error
	key   *model.APIKey
	calls int
}

func (f *flakyAuthStore) FindActiveKey(_ context.Context, _ string) (*model.APIKey, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.key, nil
}

func (f *flakyAuthStore) TouchKey(_ context.Context, _ uuid.UUID, _ time.Time) error {
	f.calls++
	return f.err
}

func (f *flakyAuthStore) AppendUsageEvent(_ context.Context, _ *model.UsageEvent) error {
	f.calls++
	return f.err
}

func (f *flakyAuthStore) CountUsageSince(_ context.Context, _ uuid.UUID, _ time.Time) (int64, error) {
	f.calls++
	return 7, f.err
}

func (f *flakyAuthStore) AppendUsageEventWithinQuota(_ context.Context, _ *model.UsageEvent, _ time.Time, limit int64) (int64, bool, error) {
	f.calls++
	if f.err != nil {
		return 0, false, f.err
	}
	return limit, true, nil
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	inner := &flakyAuthStore{err: ErrUnavailable}
	g := NewGuarded(inner, BreakerSettings{FailureRatio: 0.5, MinRequests: 3, OpenTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := g.FindActiveKey(context.Background(), "hash"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}

	if g.State() != "open" {
		t.Fatalf("expected open breaker, got %s", g.State())
	}

	_, err := g.FindActiveKey(context.Background(), "hash")
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected fast ErrUnavailable from open breaker, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected inner store to be skipped while open, got %d calls", inner.calls)
	}
}

func TestGuardedNotFoundDoesNotTrip(t *testing.T) {
	inner := &flakyAuthStore{err: ErrNotFound}
	g := NewGuarded(inner, BreakerSettings{FailureRatio: 0.5, MinRequests: 2, OpenTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		if _, err := g.FindActiveKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if g.State() != "closed" {
		t.Fatalf("expected closed breaker, got %s", g.State())
	}
}

func TestGuardedPassesResults(t *testing.T) {
	id := uuid.New()
	inner := &flakyAuthStore{key: &model.APIKey{ID: id}}
	g := NewGuarded(inner, DefaultBreakerSettings())

	key, err := g.FindActiveKey(context.Background(), "hash")
	if err != nil || key.ID != id {
		t.Fatalf("unexpected lookup result: %v %v", key, err)
	}

	count, err := g.CountUsageSince(context.Background(), id, time.Now())
	if err != nil || count != 7 {
		t.Fatalf("unexpected count: %d %v", count, err)
	}

	used, admitted, err := g.AppendUsageEventWithinQuota(context.Background(), &model.UsageEvent{APIKeyID: id}, time.Now(), 10)
	if err != nil || !admitted || used != 10 {
		t.Fatalf("unexpected metered append: used=%d admitted=%v err=%v", used, admitted, err)
	}

	if err := g.TouchKey(context.Background(), id, time.Now()); err != nil {
		t.Fatalf("unexpected touch error: %v", err)
	}
}
