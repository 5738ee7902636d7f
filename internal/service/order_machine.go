package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/lifecycle"
	"github.com/akylbek/commerce/order-lifecycle/internal/metrics"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

// OrderMachine owns every write to an order. Writers never hold a lock: each transition
// is a compare-and-set on the order version and the loser gets a ConflictError.
type OrderMachine struct {
	repo      interfaces.OrderRepository
	notifier  *Notifier
	publisher interfaces.StatePublisher
	clock     func() time.Time
}

func NewOrderMachine(repo interfaces.OrderRepository, notifier *Notifier, publisher interfaces.StatePublisher) *OrderMachine {
	return &OrderMachine{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Admit creates the order for an admitted checkout. The fraud log entry is stored in the
// same write so an order never exists without the assessment that let it in.
func (m *OrderMachine) Admit(ctx context.Context, cc *models.CheckoutContext, a models.Assessment, fraud *models.FraudLogEntry) (*models.Order, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "OrderMachine.Admit")
	defer span.End()

	var status models.Status
	switch a.Recommendation {
	case models.RecommendAllow:
		status = models.StatusPending
	case models.RecommendReview:
		status = models.StatusOnHold
	default:
		return nil, &models.ValidationError{Field: "recommendation", Message: "only allow or review admits an order"}
	}

	now := m.clock()
	order := &models.Order{
		ID:            uuid.NewString(),
		CustomerEmail: cc.Email,
		AccountID:     cc.AccountID,
		Total:         cc.Amount,
		Status:        status,
		PaymentStatus: models.PaymentUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := models.StatusHistoryEntry{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		NewStatus:        status,
		NewPaymentStatus: models.PaymentUnpaid,
		ProcessType:      models.ProcessFulfillment,
		ActorID:          models.SystemCheckout.ID,
		ActorRole:        models.SystemCheckout.Role,
		Reason:           fmt.Sprintf("risk %s, score %d, policy %s", a.Recommendation, a.Score, a.PolicyVersion),
		Version:          1,
		CreatedAt:        now,
	}
	if fraud != nil {
		fraud.OrderID = order.ID
	}

	if err := m.repo.CreateOrder(ctx, order, entry, fraud); err != nil {
		if fraud != nil {
			fraud.OrderID = ""
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.status", string(status)))

	metrics.OrderTransitions.WithLabelValues("", string(status)).Inc()
	telemetry.Logger.Info("Order admitted",
		telemetry.OrderID(order.ID),
		zap.String("status", string(status)),
		zap.Int("risk_score", a.Score),
	)

	result := &models.TransitionResult{Order: order, Entry: entry}
	m.afterTransition(ctx, result, "", "")
	return order, nil
}

func validateRequest(req *models.TransitionRequest) error {
	if req.OrderID == "" {
		return &models.ValidationError{Field: "order_id", Message: "is required"}
	}
	if !req.Target.Valid() {
		return &models.ValidationError{Field: "target", Message: "unknown status " + string(req.Target)}
	}
	if req.Payment != "" && !req.Payment.Valid() {
		return &models.ValidationError{Field: "payment_status", Message: "unknown payment status " + string(req.Payment)}
	}
	if req.ProcessType == "" {
		req.ProcessType = models.ProcessFulfillment
	}
	if !req.ProcessType.Valid() {
		return &models.ValidationError{Field: "process_type", Message: "unknown process type " + string(req.ProcessType)}
	}
	if err := req.Actor.Validate(); err != nil {
		return err
	}
	if req.ExpectedVersion <= 0 {
		return &models.ValidationError{Field: "expected_version", Message: "must be positive"}
	}
	if req.Actor.IsOperator() && requiresReason(req) && strings.TrimSpace(req.Reason) == "" {
		return &models.ValidationError{Field: "reason", Message: "is required to cancel or refund an order"}
	}
	return nil
}

func requiresReason(req *models.TransitionRequest) bool {
	switch req.Target {
	case models.StatusCancelled, models.StatusRefunded, models.StatusPartiallyRefunded:
		return true
	}
	switch req.Payment {
	case models.PaymentRefundPending, models.PaymentPartiallyRefunded, models.PaymentRefunded:
		return true
	}
	return false
}

// operatorRefund reports whether a human is marking money as returned. The provider only
// learns about it through the refund request this transition emits.
func operatorRefund(req *models.TransitionRequest, toPay models.PaymentStatus) bool {
	if !req.Actor.IsOperator() {
		return false
	}
	return toPay == models.PaymentRefunded || toPay == models.PaymentPartiallyRefunded
}

func validateRefundAmount(req *models.TransitionRequest, cur *models.Order, toPay models.PaymentStatus) error {
	if req.RefundAmount == nil {
		if operatorRefund(req, toPay) && toPay == models.PaymentPartiallyRefunded {
			return &models.ValidationError{Field: "refund_amount", Message: "is required for a partial refund"}
		}
		return nil
	}
	if !operatorRefund(req, toPay) || toPay != models.PaymentPartiallyRefunded {
		return &models.ValidationError{Field: "refund_amount", Message: "only applies to a partial refund"}
	}
	amt := req.RefundAmount
	if err := amt.Validate(); err != nil {
		return err
	}
	if amt.Amount <= 0 || amt.Currency != cur.Total.Currency || amt.Amount >= cur.Total.Amount {
		return &models.ValidationError{
			Field:   "refund_amount",
			Message: fmt.Sprintf("must be a positive %s amount below the order total %s", cur.Total.Currency, cur.Total),
		}
	}
	return nil
}

// refundAmount decides whether a transition has to ask the provider for money back.
// Refunds the provider already confirmed arrive through system actors and ask for nothing.
func refundAmount(req *models.TransitionRequest, cur, next *models.Order) (models.Money, bool) {
	switch {
	case next.PaymentStatus == models.PaymentRefundPending && cur.PaymentStatus != models.PaymentRefundPending:
		return next.Total, true
	case operatorRefund(req, next.PaymentStatus) && next.PaymentStatus == models.PaymentRefunded:
		return next.Total, true
	case operatorRefund(req, next.PaymentStatus) && req.RefundAmount != nil:
		return *req.RefundAmount, true
	}
	return models.Money{}, false
}

func (m *OrderMachine) invalid(cur *models.Order, to models.Status, toPay models.PaymentStatus, reason string) error {
	metrics.TransitionRejections.WithLabelValues("invalid_transition").Inc()
	return &models.InvalidTransitionError{
		OrderID:     cur.ID,
		From:        cur.Status,
		To:          to,
		PaymentFrom: cur.PaymentStatus,
		PaymentTo:   toPay,
		Reason:      reason,
		Current:     cur,
	}
}

// RequestTransition applies one guarded transition. Nothing is written unless the request
// is valid, the edge is allowed, and the stored version still equals ExpectedVersion.
func (m *OrderMachine) RequestTransition(ctx context.Context, req models.TransitionRequest) (*models.TransitionResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "OrderMachine.RequestTransition")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.String("order.target", string(req.Target)),
		attribute.String("actor.id", req.Actor.ID),
	)

	if err := validateRequest(&req); err != nil {
		metrics.TransitionRejections.WithLabelValues("validation").Inc()
		return nil, err
	}

	cur, err := m.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if cur.Version != req.ExpectedVersion {
		metrics.TransitionRejections.WithLabelValues("conflict").Inc()
		return nil, &models.ConflictError{OrderID: cur.ID, ExpectedVersion: req.ExpectedVersion, Current: cur}
	}

	toPay := req.Payment
	if toPay == "" {
		toPay = lifecycle.ImpliedPayment(cur.Status, req.Target, cur.PaymentStatus)
	}
	if req.Target == cur.Status && toPay == cur.PaymentStatus {
		return nil, m.invalid(cur, req.Target, toPay, "order is already in the requested state")
	}
	if req.Target == models.StatusCancelled && lifecycle.CancelRequiresRefund(cur.Status) && !req.Refund {
		metrics.TransitionRejections.WithLabelValues("validation").Inc()
		return nil, &models.ValidationError{Field: "refund", Message: "cancelling a paid order requires a refund request"}
	}
	if err := lifecycle.Check(cur.Status, req.Target, cur.PaymentStatus, toPay, req.ProcessType); err != nil {
		return nil, m.invalid(cur, req.Target, toPay, err.Error())
	}
	if err := validateRefundAmount(&req, cur, toPay); err != nil {
		metrics.TransitionRejections.WithLabelValues("validation").Inc()
		return nil, err
	}

	now := m.clock()
	next := cur.Clone()
	next.Status = req.Target
	next.PaymentStatus = toPay
	next.Version = cur.Version + 1
	next.UpdatedAt = now

	entry := models.StatusHistoryEntry{
		ID:                    uuid.NewString(),
		OrderID:               cur.ID,
		PreviousStatus:        cur.Status,
		NewStatus:             next.Status,
		PreviousPaymentStatus: cur.PaymentStatus,
		NewPaymentStatus:      next.PaymentStatus,
		ProcessType:           req.ProcessType,
		ActorID:               req.Actor.ID,
		ActorRole:             req.Actor.Role,
		Reason:                strings.TrimSpace(req.Reason),
		Version:               next.Version,
		CreatedAt:             now,
	}

	if err := m.repo.ApplyTransition(ctx, next, req.ExpectedVersion, entry); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			metrics.TransitionRejections.WithLabelValues("conflict").Inc()
			latest, getErr := m.repo.GetOrder(ctx, req.OrderID)
			if getErr != nil {
				latest = nil
			}
			telemetry.Logger.Warn("Order transition lost version race",
				telemetry.OrderID(req.OrderID),
				zap.Int64("expected_version", req.ExpectedVersion),
				zap.String("actor_id", req.Actor.ID),
			)
			return nil, &models.ConflictError{OrderID: req.OrderID, ExpectedVersion: req.ExpectedVersion, Current: latest}
		}
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	metrics.OrderTransitions.WithLabelValues(string(cur.Status), string(next.Status)).Inc()
	telemetry.Logger.Info("Order state transition",
		telemetry.OrderID(next.ID),
		zap.String("from_state", string(cur.Status)),
		zap.String("to_state", string(next.Status)),
		zap.String("from_payment", string(cur.PaymentStatus)),
		zap.String("to_payment", string(next.PaymentStatus)),
		zap.String("process_type", string(req.ProcessType)),
		zap.String("actor_id", req.Actor.ID),
		zap.Int64("version", next.Version),
	)

	result := &models.TransitionResult{Order: next, Entry: entry}
	if amount, ok := refundAmount(&req, cur, next); ok {
		result.Refund = &models.RefundRequest{
			OrderID:     next.ID,
			Amount:      amount,
			Reason:      entry.Reason,
			RequestedBy: req.Actor.ID,
			RequestedAt: now,
		}
	}
	m.afterTransition(ctx, result, cur.Status, cur.PaymentStatus)
	return result, nil
}

// afterTransition runs once the transition is durable. Nothing here can undo it.
func (m *OrderMachine) afterTransition(ctx context.Context, result *models.TransitionResult, fromStatus models.Status, fromPay models.PaymentStatus) {
	intents := lifecycle.Intents(fromStatus, result.Order.Status, fromPay, result.Order.PaymentStatus)
	if m.notifier != nil && len(intents) > 0 {
		result.Notifications = m.notifier.Notify(ctx, result.Order, intents)
		result.Order.NotificationsSent = append(result.Order.NotificationsSent, result.Notifications...)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishTransition(ctx, result); err != nil {
			telemetry.Logger.Error("Failed to publish order transition",
				telemetry.OrderID(result.Order.ID),
				zap.Error(err),
			)
		}
	}
}

// Get returns the current snapshot and the full ledger.
func (m *OrderMachine) Get(ctx context.Context, orderID string) (*models.OrderView, error) {
	order, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := m.repo.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderView{Order: order, History: history}, nil
}

// Replay walks the ledger and checks it reproduces the stored order.
func Replay(view *models.OrderView) error {
	if len(view.History) == 0 {
		return fmt.Errorf("order %s has no history", view.Order.ID)
	}
	var (
		status models.Status
		pay    models.PaymentStatus
	)
	for i, e := range view.History {
		if e.Version != int64(i+1) {
			return fmt.Errorf("order %s: entry %d has version %d", view.Order.ID, i, e.Version)
		}
		if e.PreviousStatus != status || e.PreviousPaymentStatus != pay {
			return fmt.Errorf("order %s: entry %d starts from %s/%s but ledger was at %s/%s",
				view.Order.ID, e.Version, e.PreviousStatus, e.PreviousPaymentStatus, status, pay)
		}
		if i > 0 {
			if err := lifecycle.Check(status, e.NewStatus, pay, e.NewPaymentStatus, e.ProcessType); err != nil {
				return fmt.Errorf("order %s: entry %d: %w", view.Order.ID, e.Version, err)
			}
		}
		status, pay = e.NewStatus, e.NewPaymentStatus
	}
	if status != view.Order.Status || pay != view.Order.PaymentStatus {
		return fmt.Errorf("order %s is %s/%s but ledger ends at %s/%s",
			view.Order.ID, view.Order.Status, view.Order.PaymentStatus, status, pay)
	}
	if last := view.History[len(view.History)-1]; last.Version != view.Order.Version {
		return fmt.Errorf("order %s is at version %d but ledger ends at %d", view.Order.ID, view.Order.Version, last.Version)
	}
	return nil
}
