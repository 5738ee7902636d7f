package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/metrics"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

const dispatchTimeout = 10 * time.Second

// Notifier turns notification intents into at most one dispatch per (order, kind).
// The mark is taken before dispatch and delivery runs on worker goroutines, so a slow
// or failing sink never holds up or rolls back a transition.
type Notifier struct {
	guard interfaces.NotificationGuard
	sink  interfaces.NotificationSink
	queue chan models.Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(guard interfaces.NotificationGuard, sink interfaces.NotificationSink, workers, buffer int) *Notifier {
	if workers <= 0 {
		workers = 1
	}
	n := &Notifier{
		guard: guard,
		sink:  sink,
		queue: make(chan models.Notification, buffer),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for msg := range n.queue {
		n.deliver(msg)
	}
}

// Notify marks and enqueues each intent and returns the kinds that won the guard.
func (n *Notifier) Notify(ctx context.Context, order *models.Order, kinds []models.NotificationKind) []models.NotificationKind {
	var sent []models.NotificationKind
	for _, kind := range kinds {
		ok, err := n.guard.TryMarkSent(ctx, order.ID, kind)
		if err != nil {
			// unknown outcome: skipping keeps the at-most-once promise
			metrics.Notifications.WithLabelValues(string(kind), "guard_error").Inc()
			telemetry.Logger.Error("Notification guard failed",
				telemetry.OrderID(order.ID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			metrics.Notifications.WithLabelValues(string(kind), "suppressed").Inc()
			telemetry.Logger.Debug("Notification already sent",
				telemetry.OrderID(order.ID),
				zap.String("kind", string(kind)),
			)
			continue
		}
		sent = append(sent, kind)
		n.enqueue(models.Notification{OrderID: order.ID, Kind: kind, Payload: payload(order)})
	}
	return sent
}

func (n *Notifier) enqueue(msg models.Notification) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.deliver(msg)
		return
	}
	select {
	case n.queue <- msg:
	default:
		telemetry.Logger.Warn("Notification queue full, delivering inline",
			telemetry.OrderID(msg.OrderID),
			zap.String("kind", string(msg.Kind)),
		)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.deliver(msg)
		}()
	}
}

func (n *Notifier) deliver(msg models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if err := n.sink.Dispatch(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues(string(msg.Kind), "failed").Inc()
		telemetry.Logger.Error("Notification dispatch failed",
			telemetry.OrderID(msg.OrderID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err),
		)
		return
	}
	metrics.Notifications.WithLabelValues(string(msg.Kind), "sent").Inc()
}

// Close drains the queue and waits for in-flight deliveries.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}

func payload(o *models.Order) map[string]string {
	return map[string]string{
		"order_id":       o.ID,
		"email":          o.CustomerEmail,
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
		"total":          o.Total.String(),
		"version":        strconv.FormatInt(o.Version, 10),
	}
}
