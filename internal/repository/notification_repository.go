package repository

import (
	"context"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

// TryMarkSent relies on the (order_id, kind) primary key: only one concurrent insert
// can affect a row.
func (r *PostgresStore) TryMarkSent(ctx context.Context, orderID string, kind models.NotificationKind) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO order_notifications (order_id, kind, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, kind) DO NOTHING
	`, orderID, kind, r.now())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
