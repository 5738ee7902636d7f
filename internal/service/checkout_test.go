package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

func TestEvaluateCheckout_AllowCreatesPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.checkout.EvaluateCheckout(ctx, allowedCheckout())
	require.NoError(t, err)
	assert.Equal(t, models.RecommendAllow, d.Recommendation)
	require.NotEmpty(t, d.OrderID)

	order, err := f.store.GetOrder(ctx, d.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, models.PaymentUnpaid, order.PaymentStatus)
	assert.Equal(t, int64(1), order.Version)

	entries, err := f.store.ListFraudLog(ctx, models.FraudLogQuery{Email: "buyer@shop.test"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, d.OrderID, entries[0].OrderID)
	assert.Equal(t, models.RecommendAllow, entries[0].Recommendation)

	f.flush()
	assert.Equal(t, 1, f.sink.count(d.OrderID, models.NotifyOrderReceived))
}

func TestEvaluateCheckout_ReviewPutsOrderOnHold(t *testing.T) {
	f := newFixture(t)
	cc := allowedCheckout()
	cc.IPCountry = "BR"
	cc.NewAccount = true

	d, err := f.checkout.EvaluateCheckout(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendReview, d.Recommendation)
	assert.Equal(t, 50, d.Assessment.Score)

	order, err := f.store.GetOrder(context.Background(), d.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnHold, order.Status)

	f.flush()
	assert.Zero(t, f.sink.count(d.OrderID, models.NotifyOrderReceived))
}

func TestEvaluateCheckout_BlockLeavesOnlyALogEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cc := &models.CheckoutContext{
		Email:           "fresh@example.net",
		IP:              "198.51.100.9",
		NewAccount:      true,
		Amount:          models.Money{Amount: 900000, Currency: "USD"},
		BillingCountry:  "US",
		ShippingCountry: "US",
		IPCountry:       "NG",
	}

	d, err := f.checkout.EvaluateCheckout(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, models.RecommendBlock, d.Recommendation)
	assert.Empty(t, d.OrderID)

	entries, err := f.store.ListFraudLog(ctx, models.FraudLogQuery{Email: "fresh@example.net"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].RejectedBeforeOrder())
	assert.Equal(t, 85, entries[0].Score)
	assert.NotEmpty(t, entries[0].CheckoutID)
}

func TestEvaluateCheckout_RejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	cc := allowedCheckout()
	cc.Email = ""

	_, err := f.checkout.EvaluateCheckout(context.Background(), cc)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	entries, err := f.store.ListFraudLog(context.Background(), models.FraudLogQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFraudLog_QueryValidatesRange(t *testing.T) {
	f := newFixture(t)
	log := NewFraudLog(f.store)
	now := time.Now()

	_, err := log.Query(context.Background(), models.FraudLogQuery{From: now, To: now.Add(-time.Hour)})
	assert.True(t, models.IsValidation(err))

	_, err = log.Query(context.Background(), models.FraudLogQuery{Limit: -1})
	assert.True(t, models.IsValidation(err))
}
