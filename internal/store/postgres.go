package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQueryTimeout = 3 * time.Second

var _ Store = (*Postgres)(nil)

type Postgres struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgres wraps pool. Every operation, pool acquisition included, is
// bounded by queryTimeout.
func NewPostgres(pool *pgxpool.Pool, queryTimeout time.Duration) *Postgres {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Postgres{pool: pool, queryTimeout: queryTimeout}
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.queryTimeout)
}

// Ping checks that a connection can be acquired and used.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return classify("ping", p.pool.Ping(ctx))
}
