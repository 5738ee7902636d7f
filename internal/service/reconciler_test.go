package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

type memoryRecent struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (m *memoryRecent) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id], nil
}

func (m *memoryRecent) Remember(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = map[string]bool{}
	}
	m.ids[id] = true
	return nil
}

func (f *fixture) reconciler() *Reconciler {
	return NewReconciler(f.machine, f.store, f.store, &memoryRecent{})
}

func event(id, orderID string, kind models.PaymentEventKind, seq int64) models.PaymentEvent {
	return models.PaymentEvent{EventID: id, OrderRef: orderID, Kind: kind, Sequence: seq, Timestamp: time.Now()}
}

func TestReconciler_CaptureAppliedOnceAcrossRedeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	ev := event("evt-1", o.ID, models.EventCaptureSucceeded, 0)
	res, err := r.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(2), res.Version)

	for i := 0; i < 3; i++ {
		res, err = r.Apply(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	}

	view, err := f.machine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, view.Order.Status)
	assert.Equal(t, models.PaymentPaid, view.Order.PaymentStatus)
	assert.Len(t, view.History, 2)
	assert.Equal(t, models.SystemReconciler.ID, view.History[1].ActorID)

	f.flush()
	assert.Equal(t, 1, f.sink.count(o.ID, models.NotifyPaymentConfirmed))
}

func TestReconciler_ConcurrentDuplicateDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Apply(ctx, event("evt-dup", o.ID, models.EventCaptureSucceeded, 0))
			if !assert.NoError(t, err) {
				return
			}
			if res.Outcome == OutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	history, err := f.store.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReconciler_ReplayWithNewIDIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-a", o.ID, models.EventCaptureSucceeded, 0))
	require.NoError(t, err)

	res, err := r.Apply(ctx, event("evt-b", o.ID, models.EventCaptureSucceeded, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	done, err := f.store.IsProcessed(ctx, "evt-b")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestReconciler_OutOfOrderEventsAreBufferedThenDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	res, err := r.Apply(ctx, event("evt-refund", o.ID, models.EventRefundFull, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, r.Pending(o.ID))

	current, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)

	res, err = r.Apply(ctx, event("evt-capture", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, []string{"evt-refund"}, res.Drained)
	assert.Zero(t, r.Pending(o.ID))

	view, err := f.machine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, view.Order.Status)
	assert.Equal(t, models.PaymentRefunded, view.Order.PaymentStatus)
	require.NoError(t, Replay(view))
}

func TestReconciler_StaleSequenceIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-1", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	_, err = r.Apply(ctx, event("evt-2", o.ID, models.EventDisputeOpened, 2))
	require.NoError(t, err)

	res, err := r.Apply(ctx, event("evt-late", o.ID, models.EventCaptureFailed, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	current, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentDisputed, current.PaymentStatus)
}

func TestReconciler_SweepAppliesAcrossGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-1", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	res, err := r.Apply(ctx, event("evt-3", o.ID, models.EventDisputeOpened, 3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	n, err := r.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Minute)
	n, err = r.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	current, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentDisputed, current.PaymentStatus)

	last, err := f.store.LastSequence(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestReconciler_LateEventAfterSweepIsStillApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-capture", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	res, err := r.Apply(ctx, event("evt-partial", o.ID, models.EventRefundPartial, 3))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, res.Outcome)

	now = now.Add(time.Hour)
	n, err := r.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	late := event("evt-full", o.ID, models.EventRefundFull, 2)
	res, err = r.Apply(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	current, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, current.Status)
	assert.Equal(t, models.PaymentRefunded, current.PaymentStatus)

	res, err = r.Apply(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestReconciler_LateEventAlreadyReflectedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-capture", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	_, err = r.Apply(ctx, event("evt-dispute", o.ID, models.EventDisputeOpened, 3))
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = r.Sweep(ctx, time.Minute)
	require.NoError(t, err)

	res, err := r.Apply(ctx, event("evt-dispute-again", o.ID, models.EventDisputeOpened, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)

	history, err := f.store.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestReconciler_GapForUnknownOrderIsNotBuffered(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()

	_, err := r.Apply(context.Background(), event("evt-x", "no-such-order", models.EventCaptureSucceeded, 5))
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	assert.Zero(t, r.Pending("no-such-order"))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.queues)
}

func TestReconciler_QueuesAreDroppedOnceDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-2", o.ID, models.EventDisputeOpened, 2))
	require.NoError(t, err)
	r.mu.Lock()
	assert.Len(t, r.queues, 1)
	r.mu.Unlock()

	_, err = r.Apply(ctx, event("evt-1", o.ID, models.EventCaptureSucceeded, 1))
	require.NoError(t, err)
	r.mu.Lock()
	assert.Empty(t, r.queues)
	r.mu.Unlock()

	// the sequence survives through the processed-event store
	res, err := r.Apply(ctx, event("evt-4", o.ID, models.EventRefundFull, 4))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 1, r.Pending(o.ID))
}

func TestReconciler_CaptureOnHeldOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	cc := allowedCheckout()
	cc.IPCountry = "BR"
	d, err := f.checkout.EvaluateCheckout(ctx, cc)
	require.NoError(t, err)
	require.Equal(t, models.RecommendReview, d.Recommendation)

	_, err = r.Apply(ctx, event("evt-held", d.OrderID, models.EventCaptureSucceeded, 0))
	assert.True(t, models.IsInvalidTransition(err))

	done, err := f.store.IsProcessed(ctx, "evt-held")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestReconciler_FailedCaptureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)

	_, err := r.Apply(ctx, event("evt-fail", o.ID, models.EventCaptureFailed, 1))
	require.NoError(t, err)
	current, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, current.Status)
	assert.Equal(t, models.PaymentFailed, current.PaymentStatus)

	_, err = r.Apply(ctx, event("evt-ok", o.ID, models.EventCaptureSucceeded, 2))
	require.NoError(t, err)
	current, err = f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
}

func TestReconciler_RefundAfterDeliveryUsesReturnFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reconciler()
	o := f.admit(t)
	for _, s := range []models.Status{models.StatusPaid, models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		o = f.move(t, o, s, operator, "")
	}

	_, err := r.Apply(ctx, event("evt-partial", o.ID, models.EventRefundPartial, 0))
	require.NoError(t, err)
	_, err = r.Apply(ctx, event("evt-full", o.ID, models.EventRefundFull, 0))
	require.NoError(t, err)

	view, err := f.machine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, view.Order.Status)
	last := view.History[len(view.History)-1]
	assert.Equal(t, models.ProcessReturn, last.ProcessType)
	require.NoError(t, Replay(view))

	f.flush()
	assert.Equal(t, 1, f.sink.count(o.ID, models.NotifyPartialRefund))
	assert.Equal(t, 1, f.sink.count(o.ID, models.NotifyRefund))
}

func TestReconciler_UnknownOrderAndBadEvents(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler()

	_, err := r.Apply(context.Background(), event("evt-x", "nope", models.EventCaptureSucceeded, 0))
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	_, err = r.Apply(context.Background(), event("", "nope", models.EventCaptureSucceeded, 0))
	assert.True(t, models.IsValidation(err))

	_, err = r.Apply(context.Background(), event("evt-y", "nope", "chargeback_won", 0))
	assert.True(t, models.IsValidation(err))
}

func TestPlan(t *testing.T) {
	base := func(s models.Status, p models.PaymentStatus) *models.Order {
		return &models.Order{ID: "o-1", Status: s, PaymentStatus: p, Version: 4}
	}
	tests := []struct {
		name        string
		order       *models.Order
		kind        models.PaymentEventKind
		wantOK      bool
		wantTarget  models.Status
		wantPayment models.PaymentStatus
		wantProcess models.ProcessType
	}{
		{"capture pending", base(models.StatusPending, models.PaymentUnpaid), models.EventCaptureSucceeded, true, models.StatusPaid, "", models.ProcessFulfillment},
		{"capture already paid", base(models.StatusProcessing, models.PaymentPaid), models.EventCaptureSucceeded, false, "", "", ""},
		{"capture failed", base(models.StatusPending, models.PaymentUnpaid), models.EventCaptureFailed, true, models.StatusPending, models.PaymentFailed, models.ProcessFulfillment},
		{"refund from shipped", base(models.StatusShipped, models.PaymentPaid), models.EventRefundFull, true, models.StatusRefunded, "", models.ProcessFulfillment},
		{"refund from delivered", base(models.StatusDelivered, models.PaymentPaid), models.EventRefundFull, true, models.StatusRefunded, "", models.ProcessReturn},
		{"refund settles cancellation", base(models.StatusCancelled, models.PaymentRefundPending), models.EventRefundFull, true, models.StatusCancelled, models.PaymentRefunded, models.ProcessFulfillment},
		{"refund twice", base(models.StatusRefunded, models.PaymentRefunded), models.EventRefundFull, false, "", "", ""},
		{"partial refund", base(models.StatusPaid, models.PaymentPaid), models.EventRefundPartial, true, models.StatusPaid, models.PaymentPartiallyRefunded, models.ProcessFulfillment},
		{"dispute", base(models.StatusShipped, models.PaymentPaid), models.EventDisputeOpened, true, models.StatusShipped, models.PaymentDisputed, models.ProcessFulfillment},
		{"dispute twice", base(models.StatusShipped, models.PaymentDisputed), models.EventDisputeOpened, false, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, ok := plan(tt.order, event("evt", "o-1", tt.kind, 0))
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantTarget, req.Target)
			assert.Equal(t, tt.wantPayment, req.Payment)
			assert.Equal(t, tt.wantProcess, req.ProcessType)
			assert.Equal(t, int64(4), req.ExpectedVersion)
			assert.Equal(t, models.SystemReconciler, req.Actor)
		})
	}
}
