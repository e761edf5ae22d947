package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/middleware"
	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/tier"
)

type fakeAccountService struct {
	registered []string
	err        error
}

func (f *fakeAccountService) Register(_ context.Context, email string) (*service.CreateAPIKeyResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.registered = append(f.registered, email)
	return &service.CreateAPIKeyResult{
		APIKey: &model.APIKey{
			ID:        uuid.New(),
			UserEmail: email,
			KeyPrefix: "api_abcdef...7890",
			Tier:      tier.Free,
			CreatedAt: time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC),
		},
		RawKey: "api_abcdef0123456789abcdef01234567890",
		Quota:  1000,
	}, nil
}

func (f *fakeAccountService) Usage(_ context.Context, id *service.Identity) (*service.UsageStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.UsageStats{Tier: id.Tier, MonthlyLimit: id.Quota, CallsThisMonth: 42, Remaining: id.Quota - 42}, nil
}

func (f *fakeAccountService) Account(_ context.Context, id *service.Identity) (*service.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &service.Account{Email: id.Email, Plans: tier.DefaultPolicy().Definitions()}, nil
}

func withIdentity(r *http.Request) *http.Request {
	id := &service.Identity{KeyID: uuid.New(), Email: "dev@example.com", KeyPrefix: "api_012345...cdef", Tier: tier.Developer, Quota: 10000}
	return r.WithContext(middleware.WithIdentity(r.Context(), id))
}

func TestRegisterHandler(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &fakeAccountService{}
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"email":"new@example.com"}`))
		rec := httptest.NewRecorder()
		NewRegisterHandler(svc).ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp registerResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.HasPrefix(resp.APIKey, "api_") || resp.MonthlyLimit != 1000 || resp.Tier != tier.Free {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc := &fakeAccountService{err: service.NewConflict("email_registered", "Email already registered")}
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"email":"old@example.com"}`))
		rec := httptest.NewRecorder()
		NewRegisterHandler(svc).ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &fakeAccountService{}
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"email":`))
		rec := httptest.NewRecorder()
		NewRegisterHandler(svc).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(svc.registered) != 0 {
			t.Fatal("expected no registration")
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(`{"email":"a@b.co","tier":"enterprise"}`))
		rec := httptest.NewRecorder()
		NewRegisterHandler(&fakeAccountService{}).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for self-assigned tier, got %d", rec.Code)
		}
	})
}

func TestUsageHandler(t *testing.T) {
	t.Run("reports usage", func(t *testing.T) {
		req := withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/usage", nil))
		rec := httptest.NewRecorder()
		NewUsageHandler(&fakeAccountService{}).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp struct {
			Key            string `json:"key"`
			CallsThisMonth int64  `json:"calls_this_month"`
			Remaining      int64  `json:"remaining"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Key != "api_012345...cdef" || resp.CallsThisMonth != 42 || resp.Remaining != 9958 {
			t.Fatalf("unexpected usage %+v", resp)
		}
	})

	t.Run("store unavailable", func(t *testing.T) {
		svc := &fakeAccountService{err: service.NewUnavailable("usage_unavailable", "down")}
		req := withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/usage", nil))
		rec := httptest.NewRecorder()
		NewUsageHandler(svc).ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("no identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewUsageHandler(&fakeAccountService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/usage", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestAccountHandler(t *testing.T) {
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/v1/auth/my-account", nil))
	rec := httptest.NewRecorder()
	NewAccountHandler(&fakeAccountService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var acct service.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.Email != "dev@example.com" || len(acct.Plans) != 4 {
		t.Fatalf("unexpected account %+v", acct)
	}
}
