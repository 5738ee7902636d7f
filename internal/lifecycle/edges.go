// Package lifecycle holds the order and payment state tables. The tables are data so
// they can be checked on their own; executing a transition lives in the service package.
package lifecycle

import (
	"fmt"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

// StatusEdges lists ordinary fulfillment edges.
var StatusEdges = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusPaid, models.StatusCancelled},
	models.StatusOnHold:     {models.StatusPending, models.StatusCancelled},
	models.StatusPaid:       {models.StatusProcessing, models.StatusCancelled, models.StatusRefunded},
	models.StatusProcessing: {models.StatusShipped, models.StatusCancelled, models.StatusRefunded},
	models.StatusShipped:    {models.StatusDelivered, models.StatusCancelled, models.StatusRefunded},
}

// ReturnEdges are only legal when the request is tagged with the return process type.
var ReturnEdges = map[models.Status][]models.Status{
	models.StatusDelivered:         {models.StatusPartiallyRefunded, models.StatusRefunded},
	models.StatusPartiallyRefunded: {models.StatusRefunded},
}

var PaymentEdges = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentUnpaid: {models.PaymentPaid, models.PaymentFailed},
	models.PaymentFailed: {models.PaymentPaid},
	models.PaymentPaid: {
		models.PaymentRefundPending, models.PaymentPartiallyRefunded,
		models.PaymentRefunded, models.PaymentDisputed,
	},
	models.PaymentRefundPending: {models.PaymentPartiallyRefunded, models.PaymentRefunded},
	models.PaymentPartiallyRefunded: {
		models.PaymentPartiallyRefunded, models.PaymentRefundPending,
		models.PaymentRefunded, models.PaymentDisputed,
	},
	models.PaymentDisputed: {models.PaymentPaid, models.PaymentRefunded},
}

// Consistent is the product constraint: for each status, the payment statuses it may pair with.
var Consistent = map[models.Status][]models.PaymentStatus{
	models.StatusPending:    {models.PaymentUnpaid, models.PaymentFailed},
	models.StatusOnHold:     {models.PaymentUnpaid, models.PaymentFailed},
	models.StatusPaid:       {models.PaymentPaid, models.PaymentPartiallyRefunded, models.PaymentDisputed},
	models.StatusProcessing: {models.PaymentPaid, models.PaymentPartiallyRefunded, models.PaymentDisputed},
	models.StatusShipped:    {models.PaymentPaid, models.PaymentPartiallyRefunded, models.PaymentDisputed},
	models.StatusDelivered:  {models.PaymentPaid, models.PaymentPartiallyRefunded, models.PaymentDisputed},
	models.StatusCancelled: {
		models.PaymentUnpaid, models.PaymentFailed, models.PaymentRefundPending,
		models.PaymentPartiallyRefunded, models.PaymentRefunded,
	},
	models.StatusRefunded:          {models.PaymentRefunded},
	models.StatusPartiallyRefunded: {models.PaymentPartiallyRefunded, models.PaymentDisputed},
}

var terminal = map[models.Status]bool{
	models.StatusDelivered: true,
	models.StatusCancelled: true,
	models.StatusRefunded:  true,
}

// refundCancel marks the statuses whose cancellation must be accompanied by a refund.
var refundCancel = map[models.Status]bool{
	models.StatusPaid:       true,
	models.StatusProcessing: true,
	models.StatusShipped:    true,
}

func IsTerminal(s models.Status) bool {
	return terminal[s]
}

// CancelRequiresRefund reports whether cancelling from s means money has to go back.
func CancelRequiresRefund(s models.Status) bool {
	return refundCancel[s]
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// CanMove reports whether from -> to is an allowed status edge for the given process type.
// A status staying where it is always passes; payment-only moves are checked elsewhere.
func CanMove(from, to models.Status, process models.ProcessType) bool {
	if from == to {
		return true
	}
	if contains(StatusEdges[from], to) {
		return true
	}
	return process == models.ProcessReturn && contains(ReturnEdges[from], to)
}

func CanMovePayment(from, to models.PaymentStatus) bool {
	if from == to {
		return true
	}
	return contains(PaymentEdges[from], to)
}

func IsConsistent(s models.Status, p models.PaymentStatus) bool {
	return contains(Consistent[s], p)
}

// ImpliedPayment derives the payment status that follows a status edge.
func ImpliedPayment(from, to models.Status, current models.PaymentStatus) models.PaymentStatus {
	if from == to {
		return current
	}
	switch to {
	case models.StatusPaid:
		return models.PaymentPaid
	case models.StatusRefunded:
		return models.PaymentRefunded
	case models.StatusPartiallyRefunded:
		return models.PaymentPartiallyRefunded
	case models.StatusCancelled:
		if CancelRequiresRefund(from) {
			return models.PaymentRefundPending
		}
	}
	return current
}

// Check validates a full move of both machines and returns a reason when it is refused.
func Check(fromStatus, toStatus models.Status, fromPay, toPay models.PaymentStatus, process models.ProcessType) error {
	if !CanMove(fromStatus, toStatus, process) {
		if process != models.ProcessReturn && contains(ReturnEdges[fromStatus], toStatus) {
			return fmt.Errorf("%s -> %s is only allowed in the return flow", fromStatus, toStatus)
		}
		return fmt.Errorf("%s -> %s is not an allowed status edge", fromStatus, toStatus)
	}
	if !CanMovePayment(fromPay, toPay) {
		return fmt.Errorf("payment %s -> %s is not an allowed payment edge", fromPay, toPay)
	}
	if !IsConsistent(toStatus, toPay) {
		return fmt.Errorf("status %s cannot pair with payment status %s", toStatus, toPay)
	}
	return nil
}
