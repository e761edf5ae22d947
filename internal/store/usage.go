package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/social-trends-api/internal/model"
)

func (p *Postgres) AppendUsageEvent(ctx context.Context, event *model.UsageEvent) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return classify("insert api_usage", insertUsageEvent(ctx, p.pool, event))
}

func insertUsageEvent(ctx context.Context, q queryRower, event *model.UsageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return q.QueryRow(ctx, `
		INSERT INTO api_usage (api_key_id, endpoint, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, event.APIKeyID, event.Endpoint, event.CreatedAt).Scan(&event.ID)
}

func (p *Postgres) CountUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	count, err := countUsage(ctx, p.pool, apiKeyID, since)
	if err != nil {
		return 0, classify("count api_usage", err)
	}
	return count, nil
}

func countUsage(ctx context.Context, q queryRower, apiKeyID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_usage WHERE api_key_id = $1 AND created_at >= $2
	`, apiKeyID, since).Scan(&count)
	return count, err
}

// AppendUsageEventWithinQuota serializes writers for one key with a
// transaction-scoped advisory lock, so concurrent callers cannot both pass the
// count check on the last remaining unit.
func (p *Postgres) AppendUsageEventWithinQuota(ctx context.Context, event *model.UsageEvent, since time.Time, limit int64) (int64, bool, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var (
		used     int64
		admitted bool
	)
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, event.APIKeyID.String()); err != nil {
			return err
		}

		count, err := countUsage(ctx, tx, event.APIKeyID, since)
		if err != nil {
			return err
		}
		if count >= limit {
			used = count
			return nil
		}

		if err := insertUsageEvent(ctx, tx, event); err != nil {
			return err
		}
		used, admitted = count+1, true
		return nil
	})
	if err != nil {
		return 0, false, classify("metered insert api_usage", err)
	}
	return used, admitted, nil
}

// DailyUsageSince returns per-day call counts in UTC, oldest first. Days with
// no calls are omitted.
func (p *Postgres) DailyUsageSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) ([]model.DailyUsage, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM api_usage
		WHERE api_key_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day
	`, apiKeyID, since)
	if err != nil {
		return nil, classify("daily api_usage", err)
	}
	defer rows.Close()

	var days []model.DailyUsage
	for rows.Next() {
		var d model.DailyUsage
		if err := rows.Scan(&d.Day, &d.Calls); err != nil {
			return nil, classify("scan daily api_usage", err)
		}
		d.Day = d.Day.UTC()
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate daily api_usage", err)
	}
	return days, nil
}
