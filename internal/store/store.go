package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/tier"
)

// KeyStore is the read/touch side of the key table used on every request.
type KeyStore interface {
	// FindActiveKey returns the active key with the given hash. It returns
	// ErrNotFound when no active key matches and an error wrapping
	// ErrUnavailable when the database could not be reached.
	FindActiveKey(ctx context.Context, keyHash string) (*model.APIKey, error)
	// TouchKey increments the lifetime usage counter and sets last_used_at.
	TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UsageLedger is the append-only log of metered calls.
type UsageLedger interface {
	AppendUsageEvent(ctx context.Context, event *model.UsageEvent) error
	CountUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int64, error)
}

// AtomicUsageLedger can check a quota and append in one serialized step.
type AtomicUsageLedger interface {
	UsageLedger
	// AppendUsageEventWithinQuota appends event only if fewer than limit events
	// exist for the key since the given instant. It returns the count including
	// the appended event, or the existing count when it refused.
	AppendUsageEventWithinQuota(ctx context.Context, event *model.UsageEvent, since time.Time, limit int64) (int64, bool, error)
}

// AuthStore is everything the authentication path touches.
type AuthStore interface {
	KeyStore
	AtomicUsageLedger
}

// APIKeyStore defines operations for API key management.
type APIKeyStore interface {
	KeyStore
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error)
	ListAPIKeysByUser(ctx context.Context, userID uuid.UUID) ([]*model.APIKey, error)
	CountAPIKeys(ctx context.Context) (int, error)
	SetAPIKeyActive(ctx context.Context, id uuid.UUID, active bool) error
	SetAPIKeyTier(ctx context.Context, id uuid.UUID, t tier.Tier) error
}

// UsageStatsStore reports aggregated usage for a key.
type UsageStatsStore interface {
	CountUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int64, error)
	DailyUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) ([]model.DailyUsage, error)
}

// UserStore defines operations for account owners.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// EnsureUser returns the user with the given email, creating it if needed.
	EnsureUser(ctx context.Context, user *model.User) error
	// CreateUserWithAPIKey inserts a new user and its first key in one
	// transaction. It returns ErrConflict when the email is already registered.
	CreateUserWithAPIKey(ctx context.Context, user *model.User, key *model.APIKey) error
}

// AccountStore is what key issuance and account views need.
type AccountStore interface {
	APIKeyStore
	UserStore
	UsageStatsStore
}

// Store combines every store interface.
type Store interface {
	APIKeyStore
	UsageStatsStore
	UserStore
	AtomicUsageLedger
	Ping(ctx context.Context) error
}
