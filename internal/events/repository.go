package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uberoi/giftledger/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, creator_id, title, start_at, end_at, withdrawal_percentage, created_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.CreatorID, &e.Title, &e.StartAt, &e.EndAt, &e.WithdrawalPercentage, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO events (id, creator_id, title, start_at, end_at, withdrawal_percentage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.CreatorID, e.Title, e.StartAt, e.EndAt, e.WithdrawalPercentage).Scan(&e.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events WHERE creator_id = $1 ORDER BY created_at DESC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Stats recomputes the event's aggregates from the gifts table on every read;
// nothing is cached on the event row. Only paid, uncancelled gifts count as
// collected proceeds.
func (r *Repository) Stats(ctx context.Context, eventID uuid.UUID) (*models.EventStats, error) {
	var s models.EventStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM gifts
		WHERE event_id = $1 AND paid = TRUE AND status NOT IN ('cancelled', 'expired')
	`, eventID).Scan(&s.GiftCount, &s.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
