package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

const uniqueViolation = "23505"

func (r *PostgresStore) CreateOrder(ctx context.Context, order *models.Order, entry models.StatusHistoryEntry, fraud *models.FraudLogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_email, account_id, total_amount, currency, status, payment_status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.CustomerEmail, order.AccountID, order.Total.Amount, order.Total.Currency,
		order.Status, order.PaymentStatus, order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if fraud != nil {
		if err := insertFraudLog(ctx, tx, fraud); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var (
		o     models.Order
		kinds []string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT o.id, o.customer_email, COALESCE(o.account_id, ''), o.total_amount, o.currency,
		       o.status, o.payment_status, o.version, o.created_at, o.updated_at,
		       COALESCE(array_agg(n.kind ORDER BY n.kind) FILTER (WHERE n.kind IS NOT NULL), '{}')
		FROM orders o
		LEFT JOIN order_notifications n ON n.order_id = o.id
		WHERE o.id = $1
		GROUP BY o.id
	`, orderID).Scan(&o.ID, &o.CustomerEmail, &o.AccountID, &o.Total.Amount, &o.Total.Currency,
		&o.Status, &o.PaymentStatus, &o.Version, &o.CreatedAt, &o.UpdatedAt, pq.Array(&kinds))
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		o.NotificationsSent = append(o.NotificationsSent, models.NotificationKind(k))
	}
	return &o, nil
}

// ApplyTransition is the version compare-and-set. The guarded UPDATE and the ledger
// insert commit together or not at all.
func (r *PostgresStore) ApplyTransition(ctx context.Context, order *models.Order, expectedVersion int64, entry models.StatusHistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_status = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`, order.Status, order.PaymentStatus, order.Version, order.UpdatedAt, order.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return models.ErrOrderNotFound
		}
		return models.ErrVersionConflict
	}

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresStore) History(ctx context.Context, orderID string) ([]models.StatusHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, previous_status, new_status, previous_payment_status, new_payment_status,
		       process_type, actor_id, actor_role, reason, version, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY version
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusHistoryEntry
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.PreviousStatus, &e.NewStatus, &e.PreviousPaymentStatus,
			&e.NewPaymentStatus, &e.ProcessType, &e.ActorID, &e.ActorRole, &e.Reason, &e.Version, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresStore) CustomerHistory(ctx context.Context, email, currency string) (models.CustomerHistory, error) {
	var h models.CustomerHistory
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM orders
		WHERE lower(customer_email) = $1 AND currency = $2 AND payment_status = ANY($3)
	`, email, currency, pq.Array([]string{string(models.PaymentPaid), string(models.PaymentPartiallyRefunded)})).
		Scan(&h.PaidOrders, &h.TotalPaid)
	return h, err
}

func insertHistory(ctx context.Context, tx *sql.Tx, e models.StatusHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, previous_status, new_status, previous_payment_status,
			new_payment_status, process_type, actor_id, actor_role, reason, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.OrderID, e.PreviousStatus, e.NewStatus, e.PreviousPaymentStatus, e.NewPaymentStatus,
		e.ProcessType, e.ActorID, e.ActorRole, e.Reason, e.Version, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}
