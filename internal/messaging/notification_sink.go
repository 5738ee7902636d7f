package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

const typeNotification = "order.notification"

// KafkaNotificationSink hands notifications to the delivery service over Kafka.
type KafkaNotificationSink struct {
	writer messageWriter
}

func NewKafkaNotificationSink(writer messageWriter) *KafkaNotificationSink {
	return &KafkaNotificationSink{writer: writer}
}

func (s *KafkaNotificationSink) Dispatch(ctx context.Context, n models.Notification) error {
	msg, err := jsonMessage(n.OrderID, typeNotification, n)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaNotificationSink) Close() error {
	return s.writer.Close()
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitNotificationSink publishes to a topic exchange with the notification kind as the
// routing key, so mailers can bind only to what they send.
type RabbitNotificationSink struct {
	ch       amqpPublisher
	exchange string
}

// NewRabbitNotificationSink declares the exchange on ch and returns a sink publishing to it.
func NewRabbitNotificationSink(ch *amqp.Channel, exchange string) (*RabbitNotificationSink, error) {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitNotificationSink{ch: ch, exchange: exchange}, nil
}

func (s *RabbitNotificationSink) Dispatch(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.ch.PublishWithContext(ctx, s.exchange, string(n.Kind), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     n.OrderID + ":" + string(n.Kind),
		CorrelationId: n.OrderID,
		Type:          typeNotification,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
}

// LogSink only logs. It is the development default.
type LogSink struct{}

func (LogSink) Dispatch(_ context.Context, n models.Notification) error {
	telemetry.Logger.Info("Notification",
		telemetry.OrderID(n.OrderID),
		zap.String("kind", string(n.Kind)),
		zap.Any("payload", n.Payload),
	)
	return nil
}
