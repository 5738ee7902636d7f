// Package messaging connects the service to Kafka, RabbitMQ and NATS.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/service"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

// EventApplier is satisfied by service.Reconciler.
type EventApplier interface {
	Apply(ctx context.Context, ev models.PaymentEvent) (*service.ApplyResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	maxApplyAttempts = 5
	retryBackoff     = 200 * time.Millisecond
)

// PaymentEventConsumer feeds the provider event topic into the reconciler. Offsets are
// committed only after an event was applied or can never apply, so delivery is at least once.
type PaymentEventConsumer struct {
	reader  messageReader
	applier EventApplier
	backoff time.Duration
}

func NewPaymentEventConsumer(brokers []string, topic, groupID string, applier EventApplier) *PaymentEventConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &PaymentEventConsumer{reader: reader, applier: applier, backoff: retryBackoff}
}

// Run blocks until ctx is cancelled.
func (c *PaymentEventConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	telemetry.Logger.Info("Started consuming payment events")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		c.handle(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			telemetry.Logger.Error("Error committing Kafka offset",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *PaymentEventConsumer) handle(ctx context.Context, msg kafka.Message) {
	ev, err := DecodePaymentEvent(msg.Value)
	if err != nil {
		telemetry.Logger.Error("Dropping undecodable payment event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	for attempt := 1; ; attempt++ {
		res, err := c.applier.Apply(ctx, ev)
		if err == nil {
			telemetry.Logger.Info("Processed payment event",
				zap.String("event_id", ev.EventID),
				telemetry.OrderID(ev.OrderRef),
				zap.String("outcome", string(res.Outcome)),
			)
			return
		}
		if permanent(err) || attempt >= maxApplyAttempts {
			telemetry.Logger.Error("Error processing payment event",
				zap.String("event_id", ev.EventID),
				telemetry.OrderID(ev.OrderRef),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

// permanent errors will not change on retry; the provider redelivers once the order moves.
func permanent(err error) bool {
	return models.IsValidation(err) || models.IsInvalidTransition(err) || errors.Is(err, models.ErrOrderNotFound)
}

func DecodePaymentEvent(data []byte) (models.PaymentEvent, error) {
	var ev models.PaymentEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode payment event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}
