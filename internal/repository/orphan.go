package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrphanWebhook is a verified webhook event whose provider reference matched no
// intent at delivery time, kept for a bounded window so the reconciler can win
// the race the create path lost.
type OrphanWebhook struct {
	ID          uuid.UUID
	Provider    string
	EventID     string
	ProviderRef string
	Payload     json.RawMessage
	ReceivedAt  time.Time
}

type OrphanWebhookRepository struct {
	db *sql.DB
}

func NewOrphanWebhookRepository(db *sql.DB) *OrphanWebhookRepository {
	return &OrphanWebhookRepository{db: db}
}

// Create stores the orphan; a replayed delivery of the same event is absorbed
// by the (provider, event_id) constraint.
func (r *OrphanWebhookRepository) Create(ctx context.Context, o *OrphanWebhook) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_orphans (id, provider, event_id, provider_ref, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		o.ID, o.Provider, o.EventID, o.ProviderRef, o.Payload, o.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrphanWebhookRepository) List(ctx context.Context, limit int) ([]OrphanWebhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider, event_id, provider_ref, payload, received_at
		FROM webhook_orphans ORDER BY received_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var orphans []OrphanWebhook
	for rows.Next() {
		var o OrphanWebhook
		if err := rows.Scan(&o.ID, &o.Provider, &o.EventID, &o.ProviderRef, &o.Payload, &o.ReceivedAt); err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return orphans, nil
}

func (r *OrphanWebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_orphans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (r *OrphanWebhookRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_orphans WHERE received_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("DeleteOlderThan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteOlderThan: rows affected: %w", err)
	}
	return n, nil
}
