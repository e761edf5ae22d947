package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/social-trends-api/internal/model"
)

const userColumns = `id, email, is_email_verified, registration_source, created_at, updated_at`

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.scanUser(ctx, "get user", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return p.scanUser(ctx, "get user", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// EnsureUser fills user from the row with user.Email, inserting one first if
// the email is new.
func (p *Postgres) EnsureUser(ctx context.Context, user *model.User) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (email, is_email_verified, registration_source)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING `+userColumns,
		user.Email, user.IsEmailVerified, user.RegistrationSource,
	).Scan(&user.ID, &user.Email, &user.IsEmailVerified, &user.RegistrationSource, &user.CreatedAt, &user.UpdatedAt)
	return classify("upsert user", err)
}

func (p *Postgres) CreateUserWithAPIKey(ctx context.Context, user *model.User, key *model.APIKey) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (email, is_email_verified, registration_source)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`, user.Email, user.IsEmailVerified, user.RegistrationSource).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return err
		}

		key.UserID = user.ID
		key.UserEmail = user.Email
		return insertAPIKey(ctx, tx, key)
	})
	return classify("register user", err)
}

func (p *Postgres) scanUser(ctx context.Context, op, query string, args ...interface{}) (*model.User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var u model.User
	err := p.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.IsEmailVerified, &u.RegistrationSource, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	return &u, nil
}
