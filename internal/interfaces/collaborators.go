package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

// VelocityStore counts checkout attempts per key over a trailing window.
type VelocityStore interface {
	RecordAttempt(ctx context.Context, key string, at time.Time) error
	CountAttempts(ctx context.Context, key string, since, until time.Time) (int64, error)
}

// ChargebackLookup returns how many chargebacks are on file for an email.
type ChargebackLookup interface {
	Chargebacks(ctx context.Context, email string) (int, error)
}

// RecentEventSet is a bounded, best-effort memory of provider event ids.
type RecentEventSet interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// NotificationSink hands a notification to the delivery collaborator.
type NotificationSink interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

// StatePublisher announces accepted transitions and refund requests downstream.
type StatePublisher interface {
	PublishTransition(ctx context.Context, result *models.TransitionResult) error
}
