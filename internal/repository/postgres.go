package repository

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore implements every persistence interface on one database so that order
// creation and its fraud log entry, or a transition and its ledger entry, share a transaction.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *PostgresStore) InitDB(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			customer_email VARCHAR(320) NOT NULL,
			account_id VARCHAR(255),
			total_amount BIGINT NOT NULL,
			currency CHAR(3) NOT NULL,
			status VARCHAR(32) NOT NULL,
			payment_status VARCHAR(32) NOT NULL,
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_email, currency)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			id VARCHAR(64) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			previous_status VARCHAR(32) NOT NULL,
			new_status VARCHAR(32) NOT NULL,
			previous_payment_status VARCHAR(32) NOT NULL,
			new_payment_status VARCHAR(32) NOT NULL,
			process_type VARCHAR(32) NOT NULL,
			actor_id VARCHAR(255) NOT NULL,
			actor_role VARCHAR(32) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (order_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS fraud_detection_log (
			id VARCHAR(64) PRIMARY KEY,
			checkout_id VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(320) NOT NULL,
			ip VARCHAR(64) NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			currency CHAR(3) NOT NULL,
			score SMALLINT NOT NULL,
			factors JSONB NOT NULL,
			recommendation VARCHAR(16) NOT NULL,
			policy_version VARCHAR(64) NOT NULL,
			order_id VARCHAR(64) REFERENCES orders(id),
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fraud_log_email_time ON fraud_detection_log(email, created_at)`,
		`CREATE TABLE IF NOT EXISTS order_notifications (
			order_id VARCHAR(64) NOT NULL REFERENCES orders(id),
			kind VARCHAR(32) NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (order_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_payment_events (
			event_id VARCHAR(255) PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			kind VARCHAR(48) NOT NULL,
			sequence BIGINT NOT NULL DEFAULT 0,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_events_order ON processed_payment_events(order_id, sequence)`,
	}

	for _, query := range queries {
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}
