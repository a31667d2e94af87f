package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new user and returns it.
func (r *Repository) Create(ctx context.Context, phone, passwordHash, displayName string) (*User, error) {
	var u User
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone, password_hash, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, phone, display_name, default_target_type
	`, uuid.New(), phone, passwordHash, displayName)
	if err := row.Scan(&u.ID, &u.Phone, &u.DisplayName, &u.DefaultTargetType); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByPhone returns the user and password hash for login. Returns nil when
// the phone is unknown.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*User, string, error) {
	var u User
	var passwordHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, phone, display_name, default_target_type, password_hash
		FROM users WHERE phone = $1
	`, phone)
	if err := row.Scan(&u.ID, &u.Phone, &u.DisplayName, &u.DefaultTargetType, &passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &u, passwordHash, nil
}

// SetDefaultTarget stores the user's preferred auto-allocation asset.
func (r *Repository) SetDefaultTarget(ctx context.Context, userID uuid.UUID, targetType string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET default_target_type = $1 WHERE id = $2
	`, targetType, userID)
	return err
}
