package models

import "time"

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefundPending     PaymentStatus = "refund_pending"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentDisputed          PaymentStatus = "disputed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentFailed, PaymentPaid, PaymentRefundPending,
		PaymentPartiallyRefunded, PaymentRefunded, PaymentDisputed:
		return true
	}
	return false
}

type PaymentEventKind string

const (
	EventCaptureSucceeded PaymentEventKind = "capture_succeeded"
	EventCaptureFailed    PaymentEventKind = "capture_failed"
	EventRefundPartial    PaymentEventKind = "refund_succeeded_partial"
	EventRefundFull       PaymentEventKind = "refund_succeeded_full"
	EventDisputeOpened    PaymentEventKind = "dispute_opened"
)

func (k PaymentEventKind) Valid() bool {
	switch k {
	case EventCaptureSucceeded, EventCaptureFailed, EventRefundPartial, EventRefundFull, EventDisputeOpened:
		return true
	}
	return false
}

// PaymentEvent is the provider-agnostic shape of a payment callback. Sequence is
// assigned by the provider per order; zero means the provider does not order its events.
type PaymentEvent struct {
	EventID   string           `json:"event_id"`
	OrderRef  string           `json:"order_ref"`
	Kind      PaymentEventKind `json:"kind"`
	Amount    *Money           `json:"amount,omitempty"`
	Sequence  int64            `json:"sequence"`
	Timestamp time.Time        `json:"timestamp"`
}

func (e *PaymentEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "is required"}
	}
	if e.OrderRef == "" {
		return &ValidationError{Field: "order_ref", Message: "is required"}
	}
	if !e.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: "unknown payment event kind " + string(e.Kind)}
	}
	if e.Sequence < 0 {
		return &ValidationError{Field: "sequence", Message: "must not be negative"}
	}
	if e.Amount != nil {
		if err := e.Amount.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ProcessedEvent is the dedupe record kept for every provider event that was applied.
type ProcessedEvent struct {
	EventID     string
	OrderID     string
	Kind        PaymentEventKind
	Sequence    int64
	ProcessedAt time.Time
}

// RefundRequest is emitted when money must go back: a paid order is cancelled, or an
// operator refunds it outside the provider.
type RefundRequest struct {
	OrderID     string    `json:"order_id"`
	Amount      Money     `json:"amount"`
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
