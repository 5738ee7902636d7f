package interfaces

import (
	"context"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

// OrderRepository persists orders and their ledger. ApplyTransition is a compare-and-set
// on the version: it returns models.ErrVersionConflict without writing anything when the
// stored version is not expectedVersion.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order, entry models.StatusHistoryEntry, fraud *models.FraudLogEntry) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ApplyTransition(ctx context.Context, order *models.Order, expectedVersion int64, entry models.StatusHistoryEntry) error
	History(ctx context.Context, orderID string) ([]models.StatusHistoryEntry, error)
}

// FraudLogRepository is insert-only.
type FraudLogRepository interface {
	AppendFraudLog(ctx context.Context, entry *models.FraudLogEntry) error
	ListFraudLog(ctx context.Context, q models.FraudLogQuery) ([]models.FraudLogEntry, error)
}

// NotificationGuard is the at-most-once gate for customer-visible notifications.
// TryMarkSent must be a single atomic check-and-set per (orderID, kind).
type NotificationGuard interface {
	TryMarkSent(ctx context.Context, orderID string, kind models.NotificationKind) (bool, error)
}

// ProcessedEventStore is the durable dedupe table for provider events.
type ProcessedEventStore interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, ev models.ProcessedEvent) (bool, error)
	LastSequence(ctx context.Context, orderID string) (int64, error)
}

// CustomerHistorySource answers how a customer has paid before.
type CustomerHistorySource interface {
	CustomerHistory(ctx context.Context, email, currency string) (models.CustomerHistory, error)
}

// Store is everything the service needs from one backing database.
type Store interface {
	OrderRepository
	FraudLogRepository
	NotificationGuard
	ProcessedEventStore
	CustomerHistorySource
}
