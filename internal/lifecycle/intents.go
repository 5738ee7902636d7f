package lifecycle

import "github.com/akylbek/commerce/order-lifecycle/internal/models"

var statusIntents = map[models.Status]models.NotificationKind{
	models.StatusPending:   models.NotifyOrderReceived,
	models.StatusShipped:   models.NotifyShipment,
	models.StatusDelivered: models.NotifyDelivery,
	models.StatusCancelled: models.NotifyCancellation,
}

var paymentIntents = map[models.PaymentStatus]models.NotificationKind{
	models.PaymentPaid:              models.NotifyPaymentConfirmed,
	models.PaymentRefunded:          models.NotifyRefund,
	models.PaymentPartiallyRefunded: models.NotifyPartialRefund,
	models.PaymentDisputed:          models.NotifyDisputeOpened,
}

// Intents returns the notification kinds implied by moving from one state pair to another.
// Only entering a state produces an intent; the guard decides whether it is still unsent.
func Intents(fromStatus, toStatus models.Status, fromPay, toPay models.PaymentStatus) []models.NotificationKind {
	var out []models.NotificationKind
	if fromStatus != toStatus {
		if k, ok := statusIntents[toStatus]; ok {
			out = append(out, k)
		}
	}
	if fromPay != toPay {
		// dispute resolved in the merchant's favour is not a new payment confirmation
		if !(toPay == models.PaymentPaid && fromPay == models.PaymentDisputed) {
			if k, ok := paymentIntents[toPay]; ok {
				out = append(out, k)
			}
		}
	}
	return out
}
