package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

const (
	TypeStateChanged    = "order.state.changed"
	TypeRefundRequested = "order.refund.requested"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

// StateChange is the downstream view of one accepted transition.
type StateChange struct {
	OrderID               string               `json:"order_id"`
	Status                models.Status        `json:"status"`
	PreviousStatus        models.Status        `json:"previous_status"`
	PaymentStatus         models.PaymentStatus `json:"payment_status"`
	PreviousPaymentStatus models.PaymentStatus `json:"previous_payment_status"`
	ProcessType           models.ProcessType   `json:"process_type"`
	Version               int64                `json:"version"`
	ActorID               string               `json:"actor_id"`
	Timestamp             time.Time            `json:"timestamp"`
}

// StatePublisher writes state changes and refund requests keyed by order id, so a
// partition sees one order's changes in version order.
type StatePublisher struct {
	writer messageWriter
}

func NewStatePublisher(writer messageWriter) *StatePublisher {
	return &StatePublisher{writer: writer}
}

func (p *StatePublisher) PublishTransition(ctx context.Context, result *models.TransitionResult) error {
	change := StateChange{
		OrderID:               result.Order.ID,
		Status:                result.Entry.NewStatus,
		PreviousStatus:        result.Entry.PreviousStatus,
		PaymentStatus:         result.Entry.NewPaymentStatus,
		PreviousPaymentStatus: result.Entry.PreviousPaymentStatus,
		ProcessType:           result.Entry.ProcessType,
		Version:               result.Entry.Version,
		ActorID:               result.Entry.ActorID,
		Timestamp:             result.Entry.CreatedAt,
	}
	msgs := make([]kafka.Message, 0, 2)
	msg, err := jsonMessage(result.Order.ID, TypeStateChanged, change)
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)

	if result.Refund != nil {
		msg, err := jsonMessage(result.Order.ID, TypeRefundRequested, result.Refund)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish transition for order %s: %w", result.Order.ID, err)
	}
	return nil
}

func (p *StatePublisher) Close() error {
	return p.writer.Close()
}

func jsonMessage(key, typ string, v any) (kafka.Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: []kafka.Header{{Key: "type", Value: []byte(typ)}},
	}, nil
}
