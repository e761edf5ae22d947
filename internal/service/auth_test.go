package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
)

// memAuthStore is an in-memory key store and usage ledger.
type memAuthStore struct {
	mu        sync.Mutex
	keys      map[string]*model.APIKey // by hash
	events    []model.UsageEvent
	touches   int
	lookupErr error
	countErr  error
	appendErr error
	touchErr  error
}

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{keys: make(map[string]*model.APIKey)}
}

func (m *memAuthStore) addKey(rawKey string, t tier.Tier, active bool) *model.APIKey {
	k := &model.APIKey{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		UserEmail: "owner@example.com",
		KeyHash:   HashKey(rawKey),
		KeyPrefix: MaskKey(rawKey),
		Tier:      t,
		IsActive:  active,
	}
	m.keys[k.KeyHash] = k
	return k
}

func (m *memAuthStore) seedUsage(id uuid.UUID, at time.Time, n int) {
	for i := 0; i < n; i++ {
		m.events = append(m.events, model.UsageEvent{APIKeyID: id, Endpoint: "/seed", CreatedAt: at})
	}
}

func (m *memAuthStore) FindActiveKey(_ context.Context, keyHash string) (*model.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	k, ok := m.keys[keyHash]
	if !ok || !k.IsActive {
		return nil, store.ErrNotFound
	}
	copied := *k
	return &copied, nil
}

func (m *memAuthStore) TouchKey(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	m.touches++
	for _, k := range m.keys {
		if k.ID == id {
			k.UsageCount++
			k.LastUsedAt = &at
		}
	}
	return nil
}

func (m *memAuthStore) AppendUsageEvent(_ context.Context, event *model.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *memAuthStore) CountUsageSince(_ context.Context, id uuid.UUID, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	var n int64
	for _, e := range m.events {
		if e.APIKeyID == id && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memAuthStore) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var fixedNow = time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)

func newTestAuthenticator(s *memAuthStore, demo *DemoKeys) *Authenticator {
	a := NewAuthenticator(s, quota.NewLedgerEnforcer(s), tier.DefaultPolicy(), demo)
	a.now = func() time.Time { return fixedNow }
	return a
}

func assertAuthError(t *testing.T, err error, code string, status int) *Error {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *service.Error, got %v", err)
	}
	if svcErr.Code != code {
		t.Fatalf("expected code %q, got %q", code, svcErr.Code)
	}
	if svcErr.Kind.HTTPStatus() != status {
		t.Fatalf("expected status %d, got %d", status, svcErr.Kind.HTTPStatus())
	}
	return svcErr
}

func TestAuthenticateMissingKey(t *testing.T) {
	a := newTestAuthenticator(newMemAuthStore(), nil)

	for _, raw := range []string{"", "   "} {
		_, err := a.Authenticate(context.Background(), raw, "/v1/trends/global")
		assertAuthError(t, err, CodeMissingKey, http.StatusUnauthorized)
	}
}

func TestAuthenticateInvalidKey(t *testing.T) {
	s := newMemAuthStore()
	s.addKey("api_inactive", tier.Business, false)
	a := newTestAuthenticator(s, nil)

	t.Run("unknown key", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "api_unknown", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("inactive key", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "api_inactive", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	if s.eventCount() != 0 {
		t.Fatalf("expected no usage events, got %d", s.eventCount())
	}
}

func TestAuthenticateWithinQuota(t *testing.T) {
	s := newMemAuthStore()
	k := s.addKey("api_valid", tier.Developer, true)
	s.seedUsage(k.ID, fixedNow.Add(-time.Hour), 41)
	a := newTestAuthenticator(s, nil)

	id, err := a.Authenticate(context.Background(), "api_valid", "/v1/trends/platform")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if id.KeyID != k.ID || id.Tier != tier.Developer || id.Quota != 10000 {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Used != 42 || id.Remaining() != 9958 {
		t.Fatalf("unexpected usage: used=%d remaining=%d", id.Used, id.Remaining())
	}
	if s.eventCount() != 42 {
		t.Fatalf("expected exactly one appended event, ledger has %d", s.eventCount())
	}
	if last := s.events[len(s.events)-1]; last.Endpoint != "/v1/trends/platform" || !last.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected recorded event %+v", last)
	}
	if s.touches != 1 {
		t.Fatalf("expected key to be touched once, got %d", s.touches)
	}
}

func TestAuthenticateQuotaBoundary(t *testing.T) {
	t.Run("at quota is refused without recording", func(t *testing.T) {
		s := newMemAuthStore()
		k := s.addKey("api_full", tier.Free, true)
		s.seedUsage(k.ID, fixedNow.Add(-time.Hour), 1000)
		a := newTestAuthenticator(s, nil)

		_, err := a.Authenticate(context.Background(), "api_full", "/v1/trends/global")
		svcErr := assertAuthError(t, err, CodeQuotaExceeded, http.StatusTooManyRequests)
		if svcErr.Limit != 1000 || !strings.Contains(svcErr.Message, "1000") {
			t.Fatalf("expected limit 1000 in error, got %+v", svcErr)
		}
		if s.eventCount() != 1000 {
			t.Fatalf("expected no new event, ledger has %d", s.eventCount())
		}
		if s.touches != 0 {
			t.Fatalf("expected no touch, got %d", s.touches)
		}
	})

	t.Run("free key with 999 calls takes the last unit once", func(t *testing.T) {
		s := newMemAuthStore()
		k := s.addKey("api_k1", tier.Free, true)
		s.seedUsage(k.ID, fixedNow.Add(-time.Hour), 999)
		a := newTestAuthenticator(s, nil)

		id, err := a.Authenticate(context.Background(), "api_k1", "/v1/trends/global")
		if err != nil {
			t.Fatalf("expected first call to succeed, got %v", err)
		}
		if id.Used != 1000 || id.Quota != 1000 {
			t.Fatalf("unexpected identity usage: used=%d quota=%d", id.Used, id.Quota)
		}

		_, err = a.Authenticate(context.Background(), "api_k1", "/v1/trends/global")
		svcErr := assertAuthError(t, err, CodeQuotaExceeded, http.StatusTooManyRequests)
		if svcErr.Limit != 1000 {
			t.Fatalf("expected QuotaExceeded(1000), got limit %d", svcErr.Limit)
		}
	})

	t.Run("last month does not count", func(t *testing.T) {
		s := newMemAuthStore()
		k := s.addKey("api_new_month", tier.Free, true)
		s.seedUsage(k.ID, quota.PeriodStart(fixedNow).Add(-time.Minute), 1000)
		a := newTestAuthenticator(s, nil)

		id, err := a.Authenticate(context.Background(), "api_new_month", "/v1/trends/global")
		if err != nil || id.Used != 1 {
			t.Fatalf("expected fresh month, got %+v err=%v", id, err)
		}
	})
}

func TestAuthenticateStoreFailures(t *testing.T) {
	t.Run("lookup connection error without fallback is invalid key", func(t *testing.T) {
		s := newMemAuthStore()
		s.addKey("api_k2", tier.Free, true)
		s.lookupErr = fmt.Errorf("find active api_key: %w: dial tcp: connection refused", store.ErrUnavailable)
		a := newTestAuthenticator(s, nil)

		_, err := a.Authenticate(context.Background(), "api_k2", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("unexpected lookup error is invalid key", func(t *testing.T) {
		s := newMemAuthStore()
		s.lookupErr = errors.New("syntax error")
		a := newTestAuthenticator(s, NewDemoKeys(true, map[string]tier.Tier{"demo_key": tier.Business}))

		_, err := a.Authenticate(context.Background(), "demo_key", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("count failure is request fatal", func(t *testing.T) {
		s := newMemAuthStore()
		s.addKey("api_valid", tier.Free, true)
		s.countErr = store.ErrUnavailable
		a := newTestAuthenticator(s, nil)

		_, err := a.Authenticate(context.Background(), "api_valid", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("record and touch failures are swallowed", func(t *testing.T) {
		s := newMemAuthStore()
		s.addKey("api_valid", tier.Free, true)
		s.appendErr = store.ErrUnavailable
		s.touchErr = errors.New("deadlock detected")
		a := newTestAuthenticator(s, nil)

		id, err := a.Authenticate(context.Background(), "api_valid", "/v1/trends/global")
		if err != nil {
			t.Fatalf("expected write failures to be swallowed, got %v", err)
		}
		if id.Used != 1 {
			t.Fatalf("unexpected used %d", id.Used)
		}
	})
}

func TestAuthenticateMarksStoreFailures(t *testing.T) {
	tests := []struct {
		name      string
		rawKey    string
		lookupErr error
		countErr  error
		want      bool
	}{
		{name: "unknown key", rawKey: "api_missing", want: false},
		{name: "lookup unavailable", rawKey: "api_valid", lookupErr: fmt.Errorf("find: %w", store.ErrUnavailable), want: true},
		{name: "unexpected lookup error", rawKey: "api_valid", lookupErr: errors.New("syntax error"), want: true},
		{name: "count failure", rawKey: "api_valid", countErr: store.ErrUnavailable, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemAuthStore()
			s.addKey("api_valid", tier.Free, true)
			s.lookupErr = tt.lookupErr
			s.countErr = tt.countErr
			a := newTestAuthenticator(s, nil)

			_, err := a.Authenticate(context.Background(), tt.rawKey, "/v1/trends/global")
			assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
			if got := IsStoreFailure(err); got != tt.want {
				t.Fatalf("IsStoreFailure = %v, want %v", got, tt.want)
			}
			if tt.lookupErr != nil && !errors.Is(err, tt.lookupErr) {
				t.Fatalf("expected rejection to wrap %v", tt.lookupErr)
			}
		})
	}
}

func TestAuthenticateDemoFallback(t *testing.T) {
	demo := NewDemoKeys(true, map[string]tier.Tier{"demo_business": tier.Business})

	t.Run("store down and demo key matches", func(t *testing.T) {
		s := newMemAuthStore()
		s.lookupErr = fmt.Errorf("find active api_key: %w", store.ErrUnavailable)
		a := newTestAuthenticator(s, demo)

		id, err := a.Authenticate(context.Background(), "demo_business", "/v1/trends/country")
		if err != nil {
			t.Fatalf("expected demo key to be accepted, got %v", err)
		}
		if !id.Demo || id.Used != 0 || id.Tier != tier.Business || id.Quota != 50000 {
			t.Fatalf("unexpected demo identity %+v", id)
		}
		if s.eventCount() != 0 || s.touches != 0 {
			t.Fatal("demo identities must not write usage")
		}
	})

	t.Run("demo key not in store", func(t *testing.T) {
		a := newTestAuthenticator(newMemAuthStore(), demo)

		id, err := a.Authenticate(context.Background(), "demo_business", "/v1/trends/country")
		if err != nil || !id.Demo {
			t.Fatalf("expected demo identity, got %+v err=%v", id, err)
		}
	})

	t.Run("non-matching key still rejected", func(t *testing.T) {
		s := newMemAuthStore()
		s.lookupErr = store.ErrUnavailable
		a := newTestAuthenticator(s, demo)

		_, err := a.Authenticate(context.Background(), "demo_business_x", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("disabled allowlist never matches", func(t *testing.T) {
		s := newMemAuthStore()
		s.lookupErr = store.ErrUnavailable
		a := newTestAuthenticator(s, NewDemoKeys(false, map[string]tier.Tier{"demo_business": tier.Business}))

		_, err := a.Authenticate(context.Background(), "demo_business", "/v1/trends/global")
		assertAuthError(t, err, CodeInvalidKey, http.StatusUnauthorized)
	})

	t.Run("store record wins over allowlist", func(t *testing.T) {
		s := newMemAuthStore()
		s.addKey("demo_business", tier.Free, true)
		a := newTestAuthenticator(s, demo)

		id, err := a.Authenticate(context.Background(), "demo_business", "/v1/trends/global")
		if err != nil || id.Demo || id.Tier != tier.Free {
			t.Fatalf("expected stored identity, got %+v err=%v", id, err)
		}
	})
}

func TestAuthenticateUnknownTierUsesDefaultQuota(t *testing.T) {
	s := newMemAuthStore()
	s.addKey("api_legacy", tier.Tier("premium"), true)
	a := newTestAuthenticator(s, nil)

	id, err := a.Authenticate(context.Background(), "api_legacy", "/v1/trends/global")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id.Quota != tier.DefaultQuota {
		t.Fatalf("expected default quota, got %d", id.Quota)
	}
	if err := RequireTier(id, tier.Developer); err == nil {
		t.Fatal("unknown tier must rank below developer")
	}
}

func TestIdentifyDoesNotMeter(t *testing.T) {
	s := newMemAuthStore()
	s.addKey("api_valid", tier.Free, true)
	a := newTestAuthenticator(s, nil)

	id, err := a.Identify(context.Background(), "api_valid")
	if err != nil || id.Tier != tier.Free {
		t.Fatalf("unexpected identify result %+v err=%v", id, err)
	}
	if s.eventCount() != 0 || s.touches != 0 {
		t.Fatal("identify must not write usage")
	}
}

func TestRequireTier(t *testing.T) {
	t.Run("developer and above pass", func(t *testing.T) {
		for _, tr := range []tier.Tier{tier.Developer, tier.Business, tier.Enterprise} {
			if err := RequireTier(&Identity{Tier: tr}, tier.Developer); err != nil {
				t.Fatalf("expected %s to pass, got %v", tr, err)
			}
		}
	})

	t.Run("free fails with 403", func(t *testing.T) {
		err := RequireTier(&Identity{Tier: tier.Free}, tier.Developer)
		svcErr := assertAuthError(t, err, CodeInsufficientTier, http.StatusForbidden)
		if !strings.Contains(svcErr.Message, "Developer") {
			t.Fatalf("expected required tier in message, got %q", svcErr.Message)
		}
	})
}

func TestHashKey(t *testing.T) {
	h := HashKey("api_0123456789abcdef0123456789abcdef")
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
	if h != HashKey("api_0123456789abcdef0123456789abcdef") {
		t.Fatal("expected stable hash")
	}
	if h == HashKey("api_0123456789abcdef0123456789abcdee") {
		t.Fatal("expected different keys to hash differently")
	}
}
