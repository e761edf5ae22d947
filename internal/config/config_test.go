package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/social-trends-api/internal/tier"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/trends?sslmode=disable",
	}
}

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return LoadFrom(context.Background(), envconfig.MapLookuper(env))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, baseEnv())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Port != 8000 || cfg.QuotaEnforcement != "ledger" || cfg.AcceptTestKeys {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DBQueryTimeout != 3*time.Second {
		t.Fatalf("unexpected query timeout %s", cfg.DBQueryTimeout)
	}
	if cfg.AdminEnabled() {
		t.Fatal("expected admin disabled without GOOGLE_CLIENT_ID")
	}

	policy, err := cfg.TierPolicy()
	if err != nil {
		t.Fatalf("tier policy: %v", err)
	}
	if policy.QuotaFor(tier.Business) != 50000 {
		t.Fatalf("unexpected business quota %d", policy.QuotaFor(tier.Business))
	}
}

func TestLoadOverridesTierLimits(t *testing.T) {
	env := baseEnv()
	env["FREE_TIER_MONTHLY_LIMIT"] = "250"

	cfg, err := load(t, env)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	policy, _ := cfg.TierPolicy()
	if policy.QuotaFor(tier.Free) != 250 {
		t.Fatalf("expected free quota 250, got %d", policy.QuotaFor(tier.Free))
	}
}

func TestLoadDemoKeys(t *testing.T) {
	env := baseEnv()
	env["ACCEPT_TEST_KEYS"] = "true"
	env["DEMO_KEYS"] = "demo_free_key:free,demo_biz_key:Business"

	cfg, err := load(t, env)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ids, err := cfg.DemoIdentities()
	if err != nil {
		t.Fatalf("demo identities: %v", err)
	}
	if ids["demo_free_key"] != tier.Free || ids["demo_biz_key"] != tier.Business {
		t.Fatalf("unexpected demo identities %v", ids)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing database url", env: map[string]string{}, wantErr: "DATABASE_URL"},
		{name: "bad port", env: map[string]string{"PORT": "70000"}, wantErr: "PORT"},
		{name: "zero quota", env: map[string]string{"DEVELOPER_TIER_MONTHLY_LIMIT": "0"}, wantErr: "developer"},
		{name: "unknown quota mode", env: map[string]string{"QUOTA_ENFORCEMENT": "magic"}, wantErr: "QUOTA_ENFORCEMENT"},
		{name: "redis mode without url", env: map[string]string{"QUOTA_ENFORCEMENT": "redis"}, wantErr: "REDIS_URL"},
		{name: "test keys without demo keys", env: map[string]string{"ACCEPT_TEST_KEYS": "true"}, wantErr: "DEMO_KEYS"},
		{name: "demo key with unknown tier", env: map[string]string{"ACCEPT_TEST_KEYS": "true", "DEMO_KEYS": "demo_secret_key:gold"}, wantErr: "demo_s***"},
		{name: "admin without domain", env: map[string]string{"GOOGLE_CLIENT_ID": "client", "GOOGLE_ALLOWED_EMAILS": "a@b.co"}, wantErr: "GOOGLE_ALLOWED_DOMAIN"},
		{name: "admin without emails", env: map[string]string{"GOOGLE_CLIENT_ID": "client", "GOOGLE_ALLOWED_DOMAIN": "b.co"}, wantErr: "GOOGLE_ALLOWED_EMAILS"},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantErr: "LOG_FORMAT"},
		{name: "min conns above max", env: map[string]string{"DB_MIN_CONNS": "30"}, wantErr: "DB_MIN_CONNS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := baseEnv()
			if tc.name == "missing database url" {
				env = map[string]string{}
			}
			for k, v := range tc.env {
				env[k] = v
			}

			_, err := load(t, env)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBreakerSettings(t *testing.T) {
	env := baseEnv()
	env["STORE_BREAKER_OPEN_TIMEOUT"] = "30s"

	cfg, err := load(t, env)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	bs := cfg.BreakerSettings()
	if bs.OpenTimeout != 30*time.Second || bs.FailureRatio != 0.5 || bs.MinRequests != 10 {
		t.Fatalf("unexpected breaker settings %+v", bs)
	}
}
