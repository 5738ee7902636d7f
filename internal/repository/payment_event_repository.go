package repository

import (
	"context"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

func (r *PostgresStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_payment_events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}

func (r *PostgresStore) MarkProcessed(ctx context.Context, ev models.ProcessedEvent) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_payment_events (event_id, order_id, kind, sequence, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.OrderID, ev.Kind, ev.Sequence, ev.ProcessedAt)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresStore) LastSequence(ctx context.Context, orderID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM processed_payment_events WHERE order_id = $1`, orderID).Scan(&seq)
	return seq, err
}
