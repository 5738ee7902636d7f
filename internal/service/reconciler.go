package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/metrics"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeQueued    Outcome = "queued"
)

type ApplyResult struct {
	EventID string  `json:"event_id"`
	OrderID string  `json:"order_id"`
	Outcome Outcome `json:"outcome"`
	Version int64   `json:"version,omitempty"`
	// Drained lists buffered events that became applicable because of this one.
	Drained []string `json:"drained,omitempty"`
}

const defaultConflictRetries = 5

type bufferedEvent struct {
	event    models.PaymentEvent
	queuedAt time.Time
}

type orderQueue struct {
	lastSeq  int64
	buffered map[int64]bufferedEvent
}

// Reconciler maps provider payment events onto order transitions. Events for one order
// are applied one at a time in provider sequence order; replays are answered from the
// dedupe stores without touching the state machine.
type Reconciler struct {
	machine   *OrderMachine
	repo      interfaces.OrderRepository
	processed interfaces.ProcessedEventStore
	recent    interfaces.RecentEventSet
	retries   int
	clock     func() time.Time

	locks keyedMutex

	mu     sync.Mutex
	queues map[string]*orderQueue
}

func NewReconciler(machine *OrderMachine, repo interfaces.OrderRepository, processed interfaces.ProcessedEventStore, recent interfaces.RecentEventSet) *Reconciler {
	return &Reconciler{
		machine:   machine,
		repo:      repo,
		processed: processed,
		recent:    recent,
		retries:   defaultConflictRetries,
		clock:     func() time.Time { return time.Now().UTC() },
		queues:    make(map[string]*orderQueue),
	}
}

// Apply handles one delivery of a provider event. Duplicates and already-reflected
// events succeed without a transition.
func (r *Reconciler) Apply(ctx context.Context, ev models.PaymentEvent) (*ApplyResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Reconciler.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.event_id", ev.EventID),
		attribute.String("payment.kind", string(ev.Kind)),
		attribute.String("order.id", ev.OrderRef),
	)

	if err := ev.Validate(); err != nil {
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "invalid").Inc()
		return nil, err
	}

	res, err := r.apply(ctx, ev)
	var dup *models.DuplicateEventError
	if errors.As(err, &dup) {
		telemetry.Logger.Debug("Duplicate payment event",
			zap.String("event_id", ev.EventID),
			telemetry.OrderID(ev.OrderRef),
		)
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), string(OutcomeDuplicate)).Inc()
		return &ApplyResult{EventID: ev.EventID, OrderID: ev.OrderRef, Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(string(ev.Kind), "error").Inc()
		return nil, err
	}
	metrics.PaymentEvents.WithLabelValues(string(ev.Kind), string(res.Outcome)).Inc()
	return res, nil
}

func (r *Reconciler) checkDuplicate(ctx context.Context, eventID string) error {
	if r.recent != nil {
		seen, err := r.recent.Seen(ctx, eventID)
		if err != nil {
			telemetry.Logger.Warn("Recent event set unavailable", zap.String("event_id", eventID), zap.Error(err))
		} else if seen {
			return &models.DuplicateEventError{EventID: eventID}
		}
	}
	done, err := r.processed.IsProcessed(ctx, eventID)
	if err != nil {
		return fmt.Errorf("check processed event: %w", err)
	}
	if done {
		return &models.DuplicateEventError{EventID: eventID}
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, ev models.PaymentEvent) (*ApplyResult, error) {
	if err := r.checkDuplicate(ctx, ev.EventID); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(ev.OrderRef)
	defer unlock()

	// a concurrent delivery may have finished while we waited for the lock
	if err := r.checkDuplicate(ctx, ev.EventID); err != nil {
		return nil, err
	}

	// nothing is buffered for an order that does not exist
	if _, err := r.repo.GetOrder(ctx, ev.OrderRef); err != nil {
		return nil, err
	}

	q, err := r.queueFor(ctx, ev.OrderRef)
	if err != nil {
		return nil, err
	}
	defer r.forget(ev.OrderRef, q)
	res := &ApplyResult{EventID: ev.EventID, OrderID: ev.OrderRef}

	switch {
	case ev.Sequence == 0:
		// unordered provider: apply as it comes
	case ev.Sequence <= q.lastSeq:
		// Never processed under this id: a sweep moved past it, or the provider reused
		// the sequence. plan turns it into a no-op when the order already reflects it.
		telemetry.Logger.Warn("Payment event arrived behind its sequence",
			zap.String("event_id", ev.EventID),
			telemetry.OrderID(ev.OrderRef),
			zap.Int64("sequence", ev.Sequence),
			zap.Int64("last_sequence", q.lastSeq),
		)
	case ev.Sequence > q.lastSeq+1:
		if _, ok := q.buffered[ev.Sequence]; !ok {
			q.buffered[ev.Sequence] = bufferedEvent{event: ev, queuedAt: r.clock()}
		}
		telemetry.Logger.Info("Payment event queued behind a sequence gap",
			zap.String("event_id", ev.EventID),
			telemetry.OrderID(ev.OrderRef),
			zap.Int64("sequence", ev.Sequence),
			zap.Int64("waiting_for", q.lastSeq+1),
		)
		res.Outcome = OutcomeQueued
		return res, nil
	}

	outcome, version, err := r.applyOne(ctx, ev, q)
	if err != nil {
		return nil, err
	}
	res.Outcome, res.Version = outcome, version

	for {
		next, ok := q.buffered[q.lastSeq+1]
		if !ok {
			break
		}
		delete(q.buffered, q.lastSeq+1)
		_, v, err := r.applyOne(ctx, next.event, q)
		if err != nil {
			// put it back so a redelivery or the sweep can retry it
			q.buffered[next.event.Sequence] = next
			telemetry.Logger.Error("Failed to apply buffered payment event",
				zap.String("event_id", next.event.EventID),
				telemetry.OrderID(ev.OrderRef),
				zap.Error(err),
			)
			break
		}
		if v > 0 {
			res.Version = v
		}
		res.Drained = append(res.Drained, next.event.EventID)
	}
	return res, nil
}

func (r *Reconciler) queueFor(ctx context.Context, orderID string) (*orderQueue, error) {
	r.mu.Lock()
	q, ok := r.queues[orderID]
	r.mu.Unlock()
	if ok {
		return q, nil
	}
	last, err := r.processed.LastSequence(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load last sequence: %w", err)
	}
	q = &orderQueue{lastSeq: last, buffered: make(map[int64]bufferedEvent)}
	r.mu.Lock()
	r.queues[orderID] = q
	r.mu.Unlock()
	return q, nil
}

// applyOne re-reads the order on every conflict so that a replay racing with another
// writer turns into a no-op once the state already reflects it.
func (r *Reconciler) applyOne(ctx context.Context, ev models.PaymentEvent, q *orderQueue) (Outcome, int64, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		order, err := r.repo.GetOrder(ctx, ev.OrderRef)
		if err != nil {
			return "", 0, err
		}
		req, ok := plan(order, ev)
		if !ok {
			if err := r.markProcessed(ctx, ev); err != nil {
				return "", 0, err
			}
			advance(q, ev.Sequence)
			return OutcomeNoop, 0, nil
		}
		result, err := r.machine.RequestTransition(ctx, req)
		if models.IsConflict(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return "", 0, err
		}
		if err := r.markProcessed(ctx, ev); err != nil {
			// the transition is durable; a redelivery will be a no-op through plan
			telemetry.Logger.Error("Failed to record processed payment event",
				zap.String("event_id", ev.EventID),
				zap.Error(err),
			)
		}
		advance(q, ev.Sequence)
		return OutcomeApplied, result.Order.Version, nil
	}
	return "", 0, fmt.Errorf("payment event %s: giving up after %d conflicts: %w", ev.EventID, r.retries+1, lastErr)
}

func advance(q *orderQueue, seq int64) {
	if seq > q.lastSeq {
		q.lastSeq = seq
	}
}

func (r *Reconciler) markProcessed(ctx context.Context, ev models.PaymentEvent) error {
	if _, err := r.processed.MarkProcessed(ctx, models.ProcessedEvent{
		EventID:     ev.EventID,
		OrderID:     ev.OrderRef,
		Kind:        ev.Kind,
		Sequence:    ev.Sequence,
		ProcessedAt: r.clock(),
	}); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if r.recent != nil {
		if err := r.recent.Remember(ctx, ev.EventID); err != nil {
			telemetry.Logger.Warn("Failed to remember payment event", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return nil
}

// plan turns an event into a transition request, or reports false when the order
// already reflects the event.
func plan(o *models.Order, ev models.PaymentEvent) (models.TransitionRequest, bool) {
	req := models.TransitionRequest{
		OrderID:         o.ID,
		Target:          o.Status,
		ProcessType:     models.ProcessFulfillment,
		Actor:           models.SystemReconciler,
		Reason:          reasonFor(ev),
		ExpectedVersion: o.Version,
	}

	switch ev.Kind {
	case models.EventCaptureSucceeded:
		if o.PaymentStatus != models.PaymentUnpaid && o.PaymentStatus != models.PaymentFailed {
			return req, false
		}
		req.Target = models.StatusPaid
	case models.EventCaptureFailed:
		if o.PaymentStatus != models.PaymentUnpaid {
			return req, false
		}
		req.Payment = models.PaymentFailed
	case models.EventRefundPartial:
		if o.PaymentStatus == models.PaymentPartiallyRefunded || o.PaymentStatus == models.PaymentRefunded {
			return req, false
		}
		req.Payment = models.PaymentPartiallyRefunded
	case models.EventRefundFull:
		if o.PaymentStatus == models.PaymentRefunded {
			return req, false
		}
		switch o.Status {
		case models.StatusPaid, models.StatusProcessing, models.StatusShipped:
			req.Target = models.StatusRefunded
		case models.StatusDelivered, models.StatusPartiallyRefunded:
			req.Target = models.StatusRefunded
			req.ProcessType = models.ProcessReturn
		default:
			req.Payment = models.PaymentRefunded
		}
	case models.EventDisputeOpened:
		if o.PaymentStatus == models.PaymentDisputed {
			return req, false
		}
		req.Payment = models.PaymentDisputed
	default:
		return req, false
	}
	return req, true
}

func reasonFor(ev models.PaymentEvent) string {
	if ev.Amount != nil {
		return fmt.Sprintf("provider event %s: %s %s", ev.EventID, ev.Kind, ev.Amount)
	}
	return fmt.Sprintf("provider event %s: %s", ev.EventID, ev.Kind)
}

// Sweep applies events that have waited longer than maxAge behind a sequence gap,
// in sequence order. It is meant for a scheduled reconciliation job.
func (r *Reconciler) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.clock().Add(-maxAge)

	r.mu.Lock()
	orders := make([]string, 0, len(r.queues))
	for orderID := range r.queues {
		orders = append(orders, orderID)
	}
	r.mu.Unlock()
	sort.Strings(orders)

	applied := 0
	var errs []error
	for _, orderID := range orders {
		n, err := r.flush(ctx, orderID, cutoff)
		applied += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if applied > 0 {
		telemetry.Logger.Info("Reconciliation sweep applied buffered events", zap.Int("applied", applied))
	}
	return applied, errors.Join(errs...)
}

func (r *Reconciler) flush(ctx context.Context, orderID string, cutoff time.Time) (int, error) {
	unlock := r.locks.Lock(orderID)
	defer unlock()

	r.mu.Lock()
	q := r.queues[orderID]
	r.mu.Unlock()
	if q == nil {
		return 0, nil
	}
	defer r.forget(orderID, q)
	if len(q.buffered) == 0 {
		return 0, nil
	}

	stale := false
	seqs := make([]int64, 0, len(q.buffered))
	for s, b := range q.buffered {
		seqs = append(seqs, s)
		if !b.queuedAt.After(cutoff) {
			stale = true
		}
	}
	if !stale {
		return 0, nil
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	applied := 0
	for _, s := range seqs {
		b := q.buffered[s]
		delete(q.buffered, s)
		telemetry.Logger.Warn("Applying payment event across a sequence gap",
			zap.String("event_id", b.event.EventID),
			telemetry.OrderID(orderID),
			zap.Int64("sequence", s),
			zap.Int64("last_sequence", q.lastSeq),
		)
		if _, _, err := r.applyOne(ctx, b.event, q); err != nil {
			// stop at the first failure so later events keep their order
			q.buffered[s] = b
			return applied, fmt.Errorf("order %s: %w", orderID, err)
		}
		applied++
	}
	return applied, nil
}

// forget drops an order's queue once nothing is buffered for it. The caller holds the
// order lock; queueFor reloads the last sequence from the processed-event store.
func (r *Reconciler) forget(orderID string, q *orderQueue) {
	if len(q.buffered) > 0 {
		return
	}
	r.mu.Lock()
	if r.queues[orderID] == q {
		delete(r.queues, orderID)
	}
	r.mu.Unlock()
}

// Pending reports how many events are buffered for an order.
func (r *Reconciler) Pending(orderID string) int {
	unlock := r.locks.Lock(orderID)
	defer unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[orderID]; ok {
		return len(q.buffered)
	}
	return 0
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
