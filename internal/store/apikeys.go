package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/tier"
)

func (p *Postgres) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return classify("insert api_key", insertAPIKey(ctx, p.pool, key))
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAPIKey(ctx context.Context, q queryRower, key *model.APIKey) error {
	return q.QueryRow(ctx, `
		INSERT INTO api_keys (
			user_id, key_hash, key_prefix, tier, source, rapidapi_user_id, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, usage_count, created_at, updated_at
	`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Tier, key.Source,
		nullString(key.RapidAPIUserID), key.IsActive,
	).Scan(&key.ID, &key.UsageCount, &key.CreatedAt, &key.UpdatedAt)
}

const apiKeyColumns = `k.id, k.user_id, u.email, k.key_hash, k.key_prefix, k.tier, k.source,
	k.rapidapi_user_id, k.is_active, k.usage_count, k.last_used_at,
	k.created_at, k.updated_at`

const apiKeyFrom = ` FROM api_keys k JOIN users u ON u.id = k.user_id`

func (p *Postgres) FindActiveKey(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, "find active api_key",
		`SELECT `+apiKeyColumns+apiKeyFrom+` WHERE k.key_hash = $1 AND k.is_active`, keyHash)
}

func (p *Postgres) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, "get api_key", `SELECT `+apiKeyColumns+apiKeyFrom+` WHERE k.id = $1`, id)
}

func (p *Postgres) TouchKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return classify("touch api_key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var total int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&total)
	if err != nil {
		return nil, 0, classify("count api_keys", err)
	}

	offset := (page - 1) * perPage
	rows, err := p.pool.Query(ctx, `
		SELECT `+apiKeyColumns+apiKeyFrom+` ORDER BY k.created_at DESC LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return nil, 0, classify("list api_keys", err)
	}
	defer rows.Close()

	keys, err := collectAPIKeys(rows)
	if err != nil {
		return nil, 0, err
	}
	return keys, total, nil
}

func (p *Postgres) ListAPIKeysByUser(ctx context.Context, userID uuid.UUID) ([]*model.APIKey, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT `+apiKeyColumns+apiKeyFrom+` WHERE k.user_id = $1 ORDER BY k.created_at DESC
	`, userID)
	if err != nil {
		return nil, classify("list user api_keys", err)
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

func (p *Postgres) CountAPIKeys(ctx context.Context) (int, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count)
	if err != nil {
		return 0, classify("count api_keys", err)
	}
	return count, nil
}

func (p *Postgres) SetAPIKeyActive(ctx context.Context, id uuid.UUID, active bool) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = $1, updated_at = NOW() WHERE id = $2
	`, active, id)
	if err != nil {
		return classify("update api_key status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetAPIKeyTier(ctx context.Context, id uuid.UUID, t tier.Tier) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET tier = $1, updated_at = NOW() WHERE id = $2
	`, t, id)
	if err != nil {
		return classify("update api_key tier", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanAPIKey(ctx context.Context, op, query string, args ...interface{}) (*model.APIKey, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify(op, err)
		}
		return nil, ErrNotFound
	}
	key, err := scanAPIKeyFromRow(rows)
	if err != nil {
		return nil, classify(op, err)
	}
	return key, nil
}

func collectAPIKeys(rows pgx.Rows) ([]*model.APIKey, error) {
	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKeyFromRow(rows)
		if err != nil {
			return nil, classify("scan api_key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate api_keys", err)
	}
	return keys, nil
}

func scanAPIKeyFromRow(rows pgx.Rows) (*model.APIKey, error) {
	var key model.APIKey
	var rapidAPIUserID *string

	err := rows.Scan(
		&key.ID, &key.UserID, &key.UserEmail, &key.KeyHash, &key.KeyPrefix,
		&key.Tier, &key.Source,
		&rapidAPIUserID, &key.IsActive, &key.UsageCount, &key.LastUsedAt,
		&key.CreatedAt, &key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rapidAPIUserID != nil {
		key.RapidAPIUserID = *rapidAPIUserID
	}
	return &key, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
