package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
	"github.com/social-trends-api/internal/validation"
)

const (
	keyPrefixDefault  = "api_"
	keyPrefixRapidAPI = "rapid_"
	keyRandomBytes    = 16
	usageHistoryDays  = 7
)

// APIKeyService handles key issuance, key administration and account views.
type APIKeyService struct {
	store  store.AccountStore
	policy *tier.Policy
	now    func() time.Time
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(s store.AccountStore, policy *tier.Policy) *APIKeyService {
	if policy == nil {
		policy = tier.DefaultPolicy()
	}
	return &APIKeyService{store: s, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

// CreateAPIKeyResult contains the output of a successful key creation. RawKey
// is shown to the caller once and never stored.
type CreateAPIKeyResult struct {
	APIKey *model.APIKey
	RawKey string
	Quota  int64
}

// Register creates a user and its first free key in one step.
func (s *APIKeyService) Register(ctx context.Context, email string) (*CreateAPIKeyResult, error) {
	email, err := validation.Email(email)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	rawKey, key, err := s.newKey(model.SourceInstant, tier.Free, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	user := &model.User{Email: email, RegistrationSource: model.SourceInstant}
	if err := s.store.CreateUserWithAPIKey(ctx, user, key); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewConflict("email_registered", "Email already registered. Use your existing API key or contact support.")
		}
		log.Error().Err(err).Msg("failed to register user")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	log.Info().Str("api_key_id", key.ID.String()).Str("source", string(key.Source)).Msg("api key registered")
	return &CreateAPIKeyResult{APIKey: key, RawKey: rawKey, Quota: s.policy.QuotaFor(key.Tier)}, nil
}

// ProvisionInput contains the parameters for issuing a key to an existing or
// new account from the admin surface.
type ProvisionInput struct {
	Email          string `json:"email" validate:"required,email,max=254"`
	Tier           string `json:"tier" validate:"required,tier"`
	Source         string `json:"source" validate:"omitempty,key_source"`
	RapidAPIUserID string `json:"rapidapi_user_id" validate:"required_if=Source rapidapi,max=128"`
}

// Provision issues a new key. The owning user is created if the email is new.
func (s *APIKeyService) Provision(ctx context.Context, input ProvisionInput) (*CreateAPIKeyResult, error) {
	email, err := validation.Email(input.Email)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	input.Email = email
	if err := validation.Struct(&input); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	t, _ := tier.Parse(input.Tier)
	source := model.APIKeySource(input.Source)
	if source == "" {
		source = model.SourceAdmin
	}

	user := &model.User{Email: email, RegistrationSource: source}
	if err := s.store.EnsureUser(ctx, user); err != nil {
		log.Error().Err(err).Msg("failed to upsert user")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	rawKey, key, err := s.newKey(source, t, input.RapidAPIUserID)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate API key")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}
	key.UserID = user.ID
	key.UserEmail = user.Email

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to create API key")
		return nil, NewInternal("internal_error", "Failed to create API key")
	}

	log.Info().Str("api_key_id", key.ID.String()).Str("tier", string(t)).Str("source", string(source)).Msg("api key provisioned")
	return &CreateAPIKeyResult{APIKey: key, RawKey: rawKey, Quota: s.policy.QuotaFor(t)}, nil
}

// Get returns a key by ID.
func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	key, err := s.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, notFoundOrInternal(err, "API key not found", "Failed to load API key")
	}
	return key, nil
}

// List returns one page of keys, newest first, and the total count.
func (s *APIKeyService) List(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	keys, total, err := s.store.ListAPIKeys(ctx, page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		return nil, 0, NewInternal("internal_error", "Failed to list API keys")
	}
	return keys, total, nil
}

// ListByEmail returns every key owned by the account with the given email.
func (s *APIKeyService) ListByEmail(ctx context.Context, email string) ([]*model.APIKey, error) {
	email, err := validation.Email(email)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, notFoundOrInternal(err, "No account with that email", "Failed to load account")
	}
	keys, err := s.store.ListAPIKeysByUser(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to list user API keys")
		return nil, NewInternal("internal_error", "Failed to list API keys")
	}
	return keys, nil
}

// SetTier moves a key to another tier. The new quota applies immediately to
// the current month's usage.
func (s *APIKeyService) SetTier(ctx context.Context, id uuid.UUID, name string) (*model.APIKey, error) {
	t, err := tier.Parse(name)
	if err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	if err := s.store.SetAPIKeyTier(ctx, id, t); err != nil {
		return nil, notFoundOrInternal(err, "API key not found", "Failed to update API key")
	}
	log.Info().Str("api_key_id", id.String()).Str("tier", string(t)).Msg("api key tier changed")
	return s.Get(ctx, id)
}

// SetActive deactivates or reactivates a key. Keys are never deleted.
func (s *APIKeyService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.APIKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.IsActive == active {
		state := "inactive"
		if active {
			state = "active"
		}
		return nil, NewBadRequest("invalid_status", fmt.Sprintf("API key is already %s", state))
	}

	if err := s.store.SetAPIKeyActive(ctx, id, active); err != nil {
		return nil, notFoundOrInternal(err, "API key not found", "Failed to update API key")
	}
	log.Info().Str("api_key_id", id.String()).Bool("active", active).Msg("api key status changed")

	key.IsActive = active
	return key, nil
}

// UsageStats summarizes a key's consumption.
type UsageStats struct {
	Tier           tier.Tier          `json:"tier"`
	MonthlyLimit   int64              `json:"monthly_limit"`
	CallsThisMonth int64              `json:"calls_this_month"`
	Remaining      int64              `json:"remaining"`
	PeriodStart    time.Time          `json:"period_start"`
	PeriodEnd      time.Time          `json:"period_end"`
	LifetimeCalls  int64              `json:"lifetime_calls"`
	LastUsedAt     *time.Time         `json:"last_used_at,omitempty"`
	Daily          []model.DailyUsage `json:"daily"`
	Demo           bool               `json:"demo,omitempty"`
}

// Usage reports the month-to-date, lifetime and recent daily usage of the
// caller's key.
func (s *APIKeyService) Usage(ctx context.Context, id *Identity) (*UsageStats, error) {
	now := s.now()
	stats := &UsageStats{
		Tier:         id.Tier,
		MonthlyLimit: id.Quota,
		PeriodStart:  quota.PeriodStart(now),
		PeriodEnd:    quota.PeriodEnd(now),
		Daily:        []model.DailyUsage{},
		Demo:         id.Demo,
	}
	if id.Demo {
		stats.Remaining = id.Quota
		return stats, nil
	}

	used, err := s.store.CountUsageSince(ctx, id.KeyID, stats.PeriodStart)
	if err != nil {
		log.Error().Err(err).Str("api_key_id", id.KeyID.String()).Msg("failed to count usage")
		return nil, NewUnavailable("usage_unavailable", "Usage statistics are temporarily unavailable")
	}
	key, err := s.store.GetAPIKeyByID(ctx, id.KeyID)
	if err != nil {
		return nil, notFoundOrInternal(err, "API key not found", "Failed to load API key")
	}

	since := now.Truncate(24*time.Hour).AddDate(0, 0, -(usageHistoryDays - 1))
	daily, err := s.store.DailyUsageSince(ctx, id.KeyID, since)
	if err != nil {
		log.Error().Err(err).Str("api_key_id", id.KeyID.String()).Msg("failed to load daily usage")
		return nil, NewUnavailable("usage_unavailable", "Usage statistics are temporarily unavailable")
	}

	stats.CallsThisMonth = used
	stats.Remaining = max(id.Quota-used, 0)
	stats.LifetimeCalls = key.UsageCount
	stats.LastUsedAt = key.LastUsedAt
	if daily != nil {
		stats.Daily = daily
	}
	return stats, nil
}

// Account is the owner view of a key's account.
type Account struct {
	Email     string            `json:"email"`
	Verified  bool              `json:"is_email_verified"`
	CreatedAt time.Time         `json:"created_at"`
	Keys      []AccountKey      `json:"api_keys"`
	Plans     []tier.Definition `json:"available_plans"`
}

// AccountKey is a key as shown to its owner: masked, with its quota.
type AccountKey struct {
	ID           uuid.UUID          `json:"id"`
	Key          string             `json:"key"`
	Tier         tier.Tier          `json:"tier"`
	MonthlyLimit int64              `json:"monthly_limit"`
	Source       model.APIKeySource `json:"source"`
	IsActive     bool               `json:"is_active"`
	UsageCount   int64              `json:"usage_count"`
	LastUsedAt   *time.Time         `json:"last_used_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Account returns the caller's account with every key it owns.
func (s *APIKeyService) Account(ctx context.Context, id *Identity) (*Account, error) {
	if id.Demo {
		return nil, NewNotFound("not_found", "Demo keys have no account")
	}

	user, err := s.store.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, notFoundOrInternal(err, "Account not found", "Failed to load account")
	}
	keys, err := s.store.ListAPIKeysByUser(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to list user API keys")
		return nil, NewInternal("internal_error", "Failed to load account")
	}

	acct := &Account{
		Email:     user.Email,
		Verified:  user.IsEmailVerified,
		CreatedAt: user.CreatedAt,
		Keys:      make([]AccountKey, 0, len(keys)),
		Plans:     s.policy.Definitions(),
	}
	for _, k := range keys {
		acct.Keys = append(acct.Keys, AccountKey{
			ID:           k.ID,
			Key:          k.KeyPrefix,
			Tier:         k.Tier,
			MonthlyLimit: s.policy.QuotaFor(k.Tier),
			Source:       k.Source,
			IsActive:     k.IsActive,
			UsageCount:   k.UsageCount,
			LastUsedAt:   k.LastUsedAt,
			CreatedAt:    k.CreatedAt,
		})
	}
	return acct, nil
}

func (s *APIKeyService) newKey(source model.APIKeySource, t tier.Tier, rapidAPIUserID string) (string, *model.APIKey, error) {
	rawKey, err := generateAPIKey(source)
	if err != nil {
		return "", nil, err
	}
	return rawKey, &model.APIKey{
		KeyHash:        HashKey(rawKey),
		KeyPrefix:      MaskKey(rawKey),
		Tier:           t,
		Source:         source,
		RapidAPIUserID: rapidAPIUserID,
		IsActive:       true,
	}, nil
}

func generateAPIKey(source model.APIKeySource) (string, error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	prefix := keyPrefixDefault
	if source == model.SourceRapidAPI {
		prefix = keyPrefixRapidAPI
	}
	return prefix + hex.EncodeToString(b), nil
}

// MaskKey keeps the first ten and last four characters of a key.
func MaskKey(rawKey string) string {
	if len(rawKey) <= 14 {
		return rawKey[:min(len(rawKey), 4)] + "..."
	}
	return rawKey[:10] + "..." + rawKey[len(rawKey)-4:]
}

func notFoundOrInternal(err error, notFound, internal string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFound("not_found", notFound)
	}
	log.Error().Err(err).Msg(internal)
	return NewInternal("internal_error", internal)
}
