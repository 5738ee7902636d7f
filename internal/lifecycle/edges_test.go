package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

var allStatuses = []models.Status{
	models.StatusPending, models.StatusOnHold, models.StatusPaid, models.StatusProcessing,
	models.StatusShipped, models.StatusDelivered, models.StatusCancelled, models.StatusRefunded,
	models.StatusPartiallyRefunded,
}

func TestCanMove(t *testing.T) {
	tests := []struct {
		name    string
		from    models.Status
		to      models.Status
		process models.ProcessType
		want    bool
	}{
		{"capture", models.StatusPending, models.StatusPaid, models.ProcessFulfillment, true},
		{"pre-payment cancel", models.StatusPending, models.StatusCancelled, models.ProcessFulfillment, true},
		{"release from hold", models.StatusOnHold, models.StatusPending, models.ProcessFulfillment, true},
		{"hold cancel", models.StatusOnHold, models.StatusCancelled, models.ProcessFulfillment, true},
		{"hold cannot pay", models.StatusOnHold, models.StatusPaid, models.ProcessFulfillment, false},
		{"fulfil", models.StatusPaid, models.StatusProcessing, models.ProcessFulfillment, true},
		{"ship", models.StatusProcessing, models.StatusShipped, models.ProcessFulfillment, true},
		{"deliver", models.StatusShipped, models.StatusDelivered, models.ProcessFulfillment, true},
		{"skip processing", models.StatusPaid, models.StatusShipped, models.ProcessFulfillment, false},
		{"backwards", models.StatusShipped, models.StatusProcessing, models.ProcessFulfillment, false},
		{"delivered refund outside return", models.StatusDelivered, models.StatusRefunded, models.ProcessFulfillment, false},
		{"delivered refund in return", models.StatusDelivered, models.StatusRefunded, models.ProcessReturn, true},
		{"delivered cancel in return", models.StatusDelivered, models.StatusCancelled, models.ProcessReturn, false},
		{"cancelled is final", models.StatusCancelled, models.StatusPending, models.ProcessFulfillment, false},
		{"refunded is final", models.StatusRefunded, models.StatusPaid, models.ProcessReturn, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanMove(tt.from, tt.to, tt.process))
		})
	}
}

func TestTerminalStatusesHaveNoFulfillmentEdges(t *testing.T) {
	for _, s := range allStatuses {
		if !IsTerminal(s) {
			continue
		}
		assert.Empty(t, StatusEdges[s], "terminal status %s has outbound edges", s)
	}
}

func TestEveryTableKeyIsAKnownState(t *testing.T) {
	for from, targets := range StatusEdges {
		assert.True(t, from.Valid(), from)
		for _, to := range targets {
			assert.True(t, to.Valid(), to)
			// every reachable status must have at least one consistent payment status
			assert.NotEmpty(t, Consistent[to], "no consistent payment status for %s", to)
		}
	}
	for from, targets := range PaymentEdges {
		assert.True(t, from.Valid(), from)
		for _, to := range targets {
			assert.True(t, to.Valid(), to)
		}
	}
	for _, s := range allStatuses {
		assert.Contains(t, Consistent, s)
	}
}

func TestImpliedPaymentStaysConsistent(t *testing.T) {
	// Starting from any consistent pair, following an edge with the implied payment
	// status must land on a consistent pair.
	for from, targets := range StatusEdges {
		for _, pay := range Consistent[from] {
			for _, to := range targets {
				next := ImpliedPayment(from, to, pay)
				if !CanMovePayment(pay, next) {
					continue
				}
				assert.True(t, IsConsistent(to, next), "%s/%s -> %s/%s", from, pay, to, next)
			}
		}
	}
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(models.StatusPending, models.StatusPaid, models.PaymentUnpaid, models.PaymentPaid, models.ProcessFulfillment))
	assert.NoError(t, Check(models.StatusShipped, models.StatusShipped, models.PaymentPaid, models.PaymentPartiallyRefunded, models.ProcessFulfillment))
	assert.NoError(t, Check(models.StatusPaid, models.StatusCancelled, models.PaymentPaid, models.PaymentRefundPending, models.ProcessFulfillment))

	// shipped with an unpaid order breaks the joint invariant
	assert.Error(t, Check(models.StatusProcessing, models.StatusShipped, models.PaymentUnpaid, models.PaymentUnpaid, models.ProcessFulfillment))
	// refunded money cannot be captured again
	assert.Error(t, Check(models.StatusCancelled, models.StatusCancelled, models.PaymentRefunded, models.PaymentPaid, models.ProcessFulfillment))

	err := Check(models.StatusDelivered, models.StatusRefunded, models.PaymentPaid, models.PaymentRefunded, models.ProcessFulfillment)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "return flow")
	}
}

func TestIntents(t *testing.T) {
	tests := []struct {
		name       string
		fromS, toS models.Status
		fromP, toP models.PaymentStatus
		want       []models.NotificationKind
	}{
		{"capture", models.StatusPending, models.StatusPaid, models.PaymentUnpaid, models.PaymentPaid,
			[]models.NotificationKind{models.NotifyPaymentConfirmed}},
		{"ship", models.StatusProcessing, models.StatusShipped, models.PaymentPaid, models.PaymentPaid,
			[]models.NotificationKind{models.NotifyShipment}},
		{"cancel paid", models.StatusPaid, models.StatusCancelled, models.PaymentPaid, models.PaymentRefundPending,
			[]models.NotificationKind{models.NotifyCancellation}},
		{"refund", models.StatusShipped, models.StatusRefunded, models.PaymentPaid, models.PaymentRefunded,
			[]models.NotificationKind{models.NotifyRefund}},
		{"partial refund", models.StatusShipped, models.StatusShipped, models.PaymentPaid, models.PaymentPartiallyRefunded,
			[]models.NotificationKind{models.NotifyPartialRefund}},
		{"dispute won", models.StatusShipped, models.StatusShipped, models.PaymentDisputed, models.PaymentPaid, nil},
		{"start processing", models.StatusPaid, models.StatusProcessing, models.PaymentPaid, models.PaymentPaid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intents(tt.fromS, tt.toS, tt.fromP, tt.toP))
		})
	}
}
