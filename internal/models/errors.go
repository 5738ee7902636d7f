package models

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrVersionConflict = errors.New("order version conflict")
	ErrOrderExists     = errors.New("order already exists")
)

// ValidationError means the input was malformed. Nothing was persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

// InvalidTransitionError means the requested edge is not allowed from the current state.
type InvalidTransitionError struct {
	OrderID     string
	From        Status
	To          Status
	PaymentFrom PaymentStatus
	PaymentTo   PaymentStatus
	Reason      string
	Current     *Order
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %s/%s -> %s/%s: %s",
		e.OrderID, e.From, e.PaymentFrom, e.To, e.PaymentTo, e.Reason)
}

// ConflictError means the caller's expected version is stale.
type ConflictError struct {
	OrderID         string
	ExpectedVersion int64
	Current         *Order
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("version conflict on order %s: expected %d", e.OrderID, e.ExpectedVersion)
	}
	return fmt.Sprintf("version conflict on order %s: expected %d, current %d",
		e.OrderID, e.ExpectedVersion, e.Current.Version)
}

// DuplicateEventError reports a provider event that was already applied.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return "duplicate payment event " + e.EventID
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
