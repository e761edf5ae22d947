package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
)

type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS,default=20"`
	DBMinConns     int32         `env:"DB_MIN_CONNS,default=2"`
	DBQueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT,default=3s"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS,default=true"`

	Port        int      `env:"PORT,default=8000"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`
	LogFormat   string   `env:"LOG_FORMAT,default=json"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	// HTTP server timeouts
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`

	// Monthly request allowance per tier
	FreeMonthlyLimit       int64 `env:"FREE_TIER_MONTHLY_LIMIT,default=1000"`
	DeveloperMonthlyLimit  int64 `env:"DEVELOPER_TIER_MONTHLY_LIMIT,default=10000"`
	BusinessMonthlyLimit   int64 `env:"BUSINESS_TIER_MONTHLY_LIMIT,default=50000"`
	EnterpriseMonthlyLimit int64 `env:"ENTERPRISE_TIER_MONTHLY_LIMIT,default=200000"`

	QuotaEnforcement string `env:"QUOTA_ENFORCEMENT,default=ledger"`
	RedisURL         string `env:"REDIS_URL"`

	// Demo keys are accepted without a database row when ACCEPT_TEST_KEYS is
	// set. DEMO_KEYS is "key:tier,key:tier".
	AcceptTestKeys bool              `env:"ACCEPT_TEST_KEYS,default=false"`
	DemoKeys       map[string]string `env:"DEMO_KEYS"`

	BreakerFailureRatio float64       `env:"STORE_BREAKER_FAILURE_RATIO,default=0.5"`
	BreakerMinRequests  uint32        `env:"STORE_BREAKER_MIN_REQUESTS,default=10"`
	BreakerOpenTimeout  time.Duration `env:"STORE_BREAKER_OPEN_TIMEOUT,default=15s"`

	AuthMaxFailures   int           `env:"AUTH_MAX_FAILURES,default=10"`
	AuthFailureWindow time.Duration `env:"AUTH_FAILURE_WINDOW,default=5m"`
	AuthBlockDuration time.Duration `env:"AUTH_BLOCK_DURATION,default=15m"`

	// Registrations allowed per client IP per hour.
	RegistrationRateLimit int `env:"REGISTRATION_RATE_LIMIT,default=5"`

	// Admin routes are mounted only when GOOGLE_CLIENT_ID is set.
	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom builds a Config from the given lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) must satisfy 0 <= min <= max, max >= 1", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be positive, got %s", c.DBQueryTimeout)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.LogFormat)
	}

	if _, err := c.TierPolicy(); err != nil {
		return err
	}

	switch quota.Mode(c.QuotaEnforcement) {
	case quota.ModeLedger, quota.ModeAtomic:
	case quota.ModeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUOTA_ENFORCEMENT is 'redis'")
		}
	default:
		return fmt.Errorf("QUOTA_ENFORCEMENT must be 'ledger', 'atomic' or 'redis', got %q", c.QuotaEnforcement)
	}

	if c.AcceptTestKeys {
		if len(c.DemoKeys) == 0 {
			return fmt.Errorf("DEMO_KEYS is required when ACCEPT_TEST_KEYS is set")
		}
		if _, err := c.DemoIdentities(); err != nil {
			return err
		}
	}

	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("STORE_BREAKER_FAILURE_RATIO must be in (0, 1], got %v", c.BreakerFailureRatio)
	}
	if c.RegistrationRateLimit < 1 {
		return fmt.Errorf("REGISTRATION_RATE_LIMIT must be positive, got %d", c.RegistrationRateLimit)
	}

	if c.AdminEnabled() {
		if c.GoogleAllowedDomain == "" {
			return fmt.Errorf("GOOGLE_ALLOWED_DOMAIN is required when GOOGLE_CLIENT_ID is set")
		}
		if len(c.GoogleAllowedEmails) == 0 {
			return fmt.Errorf("GOOGLE_ALLOWED_EMAILS is required when GOOGLE_CLIENT_ID is set")
		}
	}

	return nil
}

// TierPolicy returns the tier quotas configured for this deployment.
func (c *Config) TierPolicy() (*tier.Policy, error) {
	return tier.NewPolicy(tier.Quotas{
		Free:       c.FreeMonthlyLimit,
		Developer:  c.DeveloperMonthlyLimit,
		Business:   c.BusinessMonthlyLimit,
		Enterprise: c.EnterpriseMonthlyLimit,
	})
}

// DemoIdentities parses DEMO_KEYS into raw key to tier.
func (c *Config) DemoIdentities() (map[string]tier.Tier, error) {
	out := make(map[string]tier.Tier, len(c.DemoKeys))
	for key, name := range c.DemoKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("DEMO_KEYS contains an empty key")
		}
		t, err := tier.Parse(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("DEMO_KEYS entry for %q: %w", maskDemoKey(key), err)
		}
		out[key] = t
	}
	return out, nil
}

func (c *Config) BreakerSettings() store.BreakerSettings {
	return store.BreakerSettings{
		FailureRatio: c.BreakerFailureRatio,
		MinRequests:  c.BreakerMinRequests,
		OpenTimeout:  c.BreakerOpenTimeout,
	}
}

func (c *Config) AdminEnabled() bool {
	return c.GoogleClientID != ""
}

func maskDemoKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:6] + "***"
}
