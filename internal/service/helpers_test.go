package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/repository"
	"github.com/akylbek/commerce/order-lifecycle/internal/risk"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (s *recordingSink) Dispatch(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) count(orderID string, kind models.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.OrderID == orderID && m.Kind == kind {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []*models.TransitionResult
}

func (p *recordingPublisher) PublishTransition(_ context.Context, r *models.TransitionResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

type fixture struct {
	store     *repository.MemoryStore
	sink      *recordingSink
	publisher *recordingPublisher
	notifier  *Notifier
	machine   *OrderMachine
	checkout  *Checkout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewMemoryStore(),
		sink:      &recordingSink{},
		publisher: &recordingPublisher{},
	}
	f.notifier = NewNotifier(f.store, f.sink, 2, 16)
	f.machine = NewOrderMachine(f.store, f.notifier, f.publisher)
	engine := risk.NewEngine(risk.DefaultPolicy(), risk.Options{
		History:  f.store,
		Deadline: time.Second,
	})
	f.checkout = NewCheckout(engine, f.machine, f.store)
	t.Cleanup(f.notifier.Close)
	return f
}

// flush waits for every queued notification to reach the sink.
func (f *fixture) flush() {
	f.notifier.Close()
}

func allowedCheckout() *models.CheckoutContext {
	return &models.CheckoutContext{
		Email:           "buyer@shop.test",
		IP:              "203.0.113.10",
		Amount:          models.Money{Amount: 4999, Currency: "USD"},
		BillingCountry:  "US",
		ShippingCountry: "US",
		IPCountry:       "US",
	}
}

func (f *fixture) admit(t *testing.T) *models.Order {
	t.Helper()
	d, err := f.checkout.EvaluateCheckout(context.Background(), allowedCheckout())
	require.NoError(t, err)
	require.Equal(t, models.RecommendAllow, d.Recommendation)
	order, err := f.store.GetOrder(context.Background(), d.OrderID)
	require.NoError(t, err)
	return order
}

func (f *fixture) move(t *testing.T, o *models.Order, target models.Status, actor models.Actor, reason string) *models.Order {
	t.Helper()
	res, err := f.machine.RequestTransition(context.Background(), models.TransitionRequest{
		OrderID:         o.ID,
		Target:          target,
		Actor:           actor,
		Reason:          reason,
		ExpectedVersion: o.Version,
	})
	require.NoError(t, err)
	return res.Order
}

var (
	operator = models.Actor{ID: "ops-7", Role: models.RoleOperator}
	admin    = models.Actor{ID: "root-1", Role: models.RoleAdmin}
)
