package models

import "time"

type Status string

const (
	StatusPending           Status = "pending"
	StatusOnHold            Status = "on_hold"
	StatusPaid              Status = "paid"
	StatusProcessing        Status = "processing"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOnHold, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

type ProcessType string

const (
	ProcessFulfillment ProcessType = "fulfillment"
	ProcessReturn      ProcessType = "return"
)

func (p ProcessType) Valid() bool {
	return p == ProcessFulfillment || p == ProcessReturn
}

type NotificationKind string

const (
	NotifyOrderReceived    NotificationKind = "order_received"
	NotifyPaymentConfirmed NotificationKind = "payment_confirmed"
	NotifyShipment         NotificationKind = "shipment"
	NotifyDelivery         NotificationKind = "delivery"
	NotifyCancellation     NotificationKind = "cancellation"
	NotifyRefund           NotificationKind = "refund"
	NotifyPartialRefund    NotificationKind = "partial_refund"
	NotifyDisputeOpened    NotificationKind = "dispute_opened"
)

// Order is owned by the order state machine. Everything else works on copies.
type Order struct {
	ID                string             `json:"id"`
	CustomerEmail     string             `json:"customer_email"`
	AccountID         string             `json:"account_id,omitempty"`
	Total             Money              `json:"total"`
	Status            Status             `json:"status"`
	PaymentStatus     PaymentStatus      `json:"payment_status"`
	Version           int64              `json:"version"`
	NotificationsSent []NotificationKind `json:"notifications_sent"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Clone returns a copy that shares no slices with o.
func (o *Order) Clone() *Order {
	c := *o
	c.NotificationsSent = append([]NotificationKind(nil), o.NotificationsSent...)
	return &c
}

// StatusHistoryEntry is one accepted transition. Entries are never updated.
type StatusHistoryEntry struct {
	ID                    string        `json:"id"`
	OrderID               string        `json:"order_id"`
	PreviousStatus        Status        `json:"previous_status"`
	NewStatus             Status        `json:"new_status"`
	PreviousPaymentStatus PaymentStatus `json:"previous_payment_status"`
	NewPaymentStatus      PaymentStatus `json:"new_payment_status"`
	ProcessType           ProcessType   `json:"process_type"`
	ActorID               string        `json:"actor_id"`
	ActorRole             Role          `json:"actor_role"`
	Reason                string        `json:"reason,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
}

// OrderView is the read-only audit snapshot: the order plus its full ledger.
type OrderView struct {
	Order   *Order               `json:"order"`
	History []StatusHistoryEntry `json:"history"`
}

// TransitionRequest asks the state machine to move an order. An empty Payment lets the
// machine derive the payment status from the status edge; Target equal to the current
// status with a Payment set is a payment-only transition.
type TransitionRequest struct {
	OrderID         string
	Target          Status
	Payment         PaymentStatus
	ProcessType     ProcessType
	Actor           Actor
	Reason          string
	ExpectedVersion int64
	Refund          bool
	// RefundAmount is what an operator sends back on a partial refund.
	RefundAmount *Money
}

type TransitionResult struct {
	Order         *Order
	Entry         StatusHistoryEntry
	Notifications []NotificationKind
	Refund        *RefundRequest
}

// Notification is the intent handed to the delivery collaborator.
type Notification struct {
	OrderID string            `json:"order_id"`
	Kind    NotificationKind  `json:"kind"`
	Payload map[string]string `json:"payload"`
}

// CustomerHistory summarizes a customer's settled orders in one currency.
type CustomerHistory struct {
	PaidOrders int   `json:"paid_orders"`
	TotalPaid  int64 `json:"total_paid"`
}

func (h CustomerHistory) MeanAmount() int64 {
	if h.PaidOrders == 0 {
		return 0
	}
	return h.TotalPaid / int64(h.PaidOrders)
}
