package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProcessedEventRepository is the durable half of the idempotency guard: a
// uniqueness constraint on (provider, event_id). Unlike the in-process cache it
// survives restarts and is shared across instances.
type ProcessedEventRepository struct {
	db *sql.DB
}

func NewProcessedEventRepository(db *sql.DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Insert returns false when the event was already recorded.
func (r *ProcessedEventRepository) Insert(ctx context.Context, provider, eventID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO processed_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("Insert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Insert: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *ProcessedEventRepository) CleanOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("CleanOlderThan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanOlderThan: rows affected: %w", err)
	}
	return n, nil
}
