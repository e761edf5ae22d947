package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/metrics"
	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
)

// Identity is the per-request result of a successful authentication.
type Identity struct {
	KeyID     uuid.UUID
	UserID    uuid.UUID
	Email     string
	KeyPrefix string
	Tier      tier.Tier
	// Used is the number of metered calls this month, this one included.
	Used  int64
	Quota int64
	// Demo is set when the identity came from the demo allowlist rather
	// than the key store.
	Demo bool
}

// Remaining returns the calls left this month, never negative.
func (id *Identity) Remaining() int64 {
	if id.Used >= id.Quota {
		return 0
	}
	return id.Quota - id.Used
}

// Authenticator resolves raw API keys into identities, enforcing the monthly
// quota of the key's tier. It keeps no per-request state.
type Authenticator struct {
	keys     store.KeyStore
	enforcer quota.Enforcer
	policy   *tier.Policy
	demo     *DemoKeys
	now      func() time.Time
}

func NewAuthenticator(keys store.KeyStore, enforcer quota.Enforcer, policy *tier.Policy, demo *DemoKeys) *Authenticator {
	if policy == nil {
		policy = tier.DefaultPolicy()
	}
	return &Authenticator{
		keys:     keys,
		enforcer: enforcer,
		policy:   policy,
		demo:     demo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate validates rawKey, meters one call to endpoint against the
// key's monthly quota and returns the resolved identity.
//
// Errors are *Error values: missing key and invalid key map to 401, an
// exhausted quota to 429. A store failure on the read path is reported as an
// invalid key. Failures to touch the key afterwards are logged and ignored.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey, endpoint string) (*Identity, error) {
	id, err := a.resolve(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	if id.Demo {
		return id, nil
	}

	now := a.now()
	adm, err := a.enforcer.Admit(ctx, quota.Request{KeyID: id.KeyID, Endpoint: endpoint, Limit: id.Quota, At: now})
	if err != nil {
		metrics.RecordAuthDecision("invalid")
		log.Error().Err(err).Str("api_key_id", id.KeyID.String()).Msg("failed to check usage quota")
		return nil, storeFailure(err)
	}
	if !adm.Allowed {
		metrics.RecordAuthDecision("quota_exceeded")
		return nil, NewQuotaExceeded(id.Quota)
	}
	id.Used = adm.Used

	if err := a.keys.TouchKey(ctx, id.KeyID, now); err != nil {
		metrics.RecordUsageWriteFailure("touch")
		log.Error().Err(err).Str("api_key_id", id.KeyID.String()).Msg("failed to update key usage")
	}

	metrics.RecordAuthDecision("ok")
	return id, nil
}

// Identify resolves rawKey without metering or touching it. Account and usage
// lookups use it so that checking your own usage is free.
func (a *Authenticator) Identify(ctx context.Context, rawKey string) (*Identity, error) {
	return a.resolve(ctx, rawKey)
}

func (a *Authenticator) resolve(ctx context.Context, rawKey string) (*Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		metrics.RecordAuthDecision("missing")
		return nil, NewUnauthorized(CodeMissingKey, "API key required. Get your free key at /v1/auth/register")
	}

	key, err := a.keys.FindActiveKey(ctx, HashKey(rawKey))
	if err != nil {
		unavailable := errors.Is(err, store.ErrUnavailable)
		if unavailable || errors.Is(err, store.ErrNotFound) {
			if id, ok := a.demoIdentity(rawKey, unavailable); ok {
				return id, nil
			}
		}
		metrics.RecordAuthDecision("invalid")
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Msg("api key lookup failed")
			return nil, storeFailure(err)
		}
		return nil, invalidKey()
	}

	if !key.Tier.Valid() {
		metrics.UnknownTier.Inc()
	}

	return &Identity{
		KeyID:     key.ID,
		UserID:    key.UserID,
		Email:     key.UserEmail,
		KeyPrefix: key.KeyPrefix,
		Tier:      key.Tier,
		Quota:     a.policy.QuotaFor(key.Tier),
	}, nil
}

func (a *Authenticator) demoIdentity(rawKey string, storeDown bool) (*Identity, bool) {
	t, ok := a.demo.Match(rawKey)
	if !ok {
		return nil, false
	}

	metrics.RecordAuthDecision("demo")
	log.Warn().
		Str("tier", string(t)).
		Bool("store_unavailable", storeDown).
		Msg("accepting demo API key from allowlist")

	return &Identity{
		KeyPrefix: MaskKey(rawKey),
		Tier:      t,
		Quota:     a.policy.QuotaFor(t),
		Demo:      true,
	}, true
}

// RequireTier fails with 403 unless id's tier ranks at or above minimum.
func RequireTier(id *Identity, minimum tier.Tier) error {
	if id != nil && tier.AtLeast(id.Tier, minimum) {
		return nil
	}
	metrics.RecordAuthDecision("tier_denied")

	current := tier.Free
	if id != nil {
		current = id.Tier
	}
	return NewForbidden(CodeInsufficientTier, fmt.Sprintf(
		"This endpoint requires %s tier or higher. Your tier: %s", minimum.Title(), current.Title()))
}

// HashKey returns the hex SHA-256 digest stored in place of the raw key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func invalidKey() *Error {
	return NewUnauthorized(CodeInvalidKey, "Invalid or inactive API key")
}

// storeFailure is an invalid-key rejection that remembers the storage error
// behind it.
func storeFailure(cause error) *Error {
	e := invalidKey()
	e.cause = cause
	return e
}
