package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
)

// flakyStore serves one active key and can be switched into an outage.
type flakyStore struct {
	mu   sync.Mutex
	down bool
	key  *model.APIKey
	used int64
}

func (s *flakyStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *flakyStore) FindActiveKey(_ context.Context, keyHash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("find active api_key: %w: dial tcp: connection refused", store.ErrUnavailable)
	}
	if keyHash != s.key.KeyHash {
		return nil, store.ErrNotFound
	}
	copied := *s.key
	return &copied, nil
}

func (s *flakyStore) TouchKey(context.Context, uuid.UUID, time.Time) error { return nil }

func (s *flakyStore) AppendUsageEvent(context.Context, *model.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used++
	return nil
}

func (s *flakyStore) CountUsageSince(context.Context, uuid.UUID, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

func TestAPIKeyAuth_StoreOutageDoesNotLockOut(t *testing.T) {
	const rawKey = "api_0123456789abcdef0123456789abcdef"
	s := &flakyStore{key: &model.APIKey{
		ID:        uuid.New(),
		KeyHash:   service.HashKey(rawKey),
		KeyPrefix: service.MaskKey(rawKey),
		Tier:      tier.Free,
		IsActive:  true,
	}}
	auth := service.NewAuthenticator(s, quota.NewLedgerEnforcer(s), tier.DefaultPolicy(), nil)
	limiter := NewAuthAttemptLimiter(3, time.Minute, 15*time.Minute)
	handler := APIKeyAuth(auth, limiter)(identityHandler())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/trends/global", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		req.Header.Set(APIKeyHeader, rawKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	s.setDown(true)
	for range 10 {
		rec := send()
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 during outage, got %d", rec.Code)
		}
		if code, _ := parseErrorResponse(t, rec); code != service.CodeInvalidKey {
			t.Fatalf("expected invalid_api_key during outage, got %q", code)
		}
	}

	s.setDown(false)
	rec := send()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected valid key to pass after recovery, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Quota-Used"); got != "1" {
		t.Fatalf("expected X-Quota-Used 1, got %q", got)
	}
}
