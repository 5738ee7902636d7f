package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

const defaultFraudLogLimit = 500

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PostgresStore) AppendFraudLog(ctx context.Context, entry *models.FraudLogEntry) error {
	return insertFraudLog(ctx, r.db, entry)
}

func insertFraudLog(ctx context.Context, db execer, e *models.FraudLogEntry) error {
	factors, err := json.Marshal(e.Factors)
	if err != nil {
		return err
	}
	var orderID sql.NullString
	if e.OrderID != "" {
		orderID = sql.NullString{String: e.OrderID, Valid: true}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO fraud_detection_log (id, checkout_id, email, ip, user_agent, amount, currency, score,
			factors, recommendation, policy_version, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.CheckoutID, strings.ToLower(e.Email), e.IP, e.UserAgent, e.Amount.Amount, e.Amount.Currency,
		e.Score, factors, e.Recommendation, e.PolicyVersion, orderID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append fraud log: %w", err)
	}
	return nil
}

func (r *PostgresStore) ListFraudLog(ctx context.Context, q models.FraudLogQuery) ([]models.FraudLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if q.Email != "" {
		args = append(args, strings.ToLower(q.Email))
		where = append(where, fmt.Sprintf("email = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 || limit > defaultFraudLogLimit {
		limit = defaultFraudLogLimit
	}
	args = append(args, limit)

	query := `SELECT id, checkout_id, email, ip, user_agent, amount, currency, score, factors,
		recommendation, policy_version, COALESCE(order_id, ''), created_at
		FROM fraud_detection_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FraudLogEntry
	for rows.Next() {
		var (
			e       models.FraudLogEntry
			factors []byte
		)
		if err := rows.Scan(&e.ID, &e.CheckoutID, &e.Email, &e.IP, &e.UserAgent, &e.Amount.Amount,
			&e.Amount.Currency, &e.Score, &factors, &e.Recommendation, &e.PolicyVersion, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(factors, &e.Factors); err != nil {
			return nil, fmt.Errorf("decode factors of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
