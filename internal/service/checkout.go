package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/risk"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

// Checkout is the admission gate in front of order creation.
type Checkout struct {
	engine   *risk.Engine
	machine  *OrderMachine
	fraudLog interfaces.FraudLogRepository
	clock    func() time.Time
}

func NewCheckout(engine *risk.Engine, machine *OrderMachine, fraudLog interfaces.FraudLogRepository) *Checkout {
	return &Checkout{
		engine:   engine,
		machine:  machine,
		fraudLog: fraudLog,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateCheckout scores the attempt and, unless it is blocked, creates the order.
// Every attempt that passes validation leaves exactly one fraud log entry.
func (c *Checkout) EvaluateCheckout(ctx context.Context, cc *models.CheckoutContext) (*models.CheckoutDecision, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Checkout.EvaluateCheckout")
	defer span.End()

	if err := cc.Validate(); err != nil {
		return nil, err
	}
	if cc.CheckoutID == "" {
		cc.CheckoutID = uuid.NewString()
	}

	a := c.engine.Evaluate(ctx, cc)
	entry := &models.FraudLogEntry{
		ID:             uuid.NewString(),
		CheckoutID:     cc.CheckoutID,
		Email:          cc.Email,
		IP:             cc.IP,
		UserAgent:      cc.UserAgent,
		Amount:         cc.Amount,
		Score:          a.Score,
		Factors:        a.Factors,
		Recommendation: a.Recommendation,
		PolicyVersion:  a.PolicyVersion,
		CreatedAt:      c.clock(),
	}
	defer c.recordAttempt(ctx, cc)

	decision := &models.CheckoutDecision{Recommendation: a.Recommendation, Assessment: a}
	if a.Recommendation == models.RecommendBlock {
		if err := c.fraudLog.AppendFraudLog(ctx, entry); err != nil {
			return nil, fmt.Errorf("write fraud log: %w", err)
		}
		telemetry.Logger.Info("Checkout blocked",
			zap.String("checkout_id", cc.CheckoutID),
			zap.Int("risk_score", a.Score),
		)
		return decision, nil
	}

	order, err := c.machine.Admit(ctx, cc, a, entry)
	if err != nil {
		// the order write rolled back with its log entry; keep the attempt on record
		if logErr := c.fraudLog.AppendFraudLog(ctx, entry); logErr != nil {
			telemetry.Logger.Error("Failed to write fraud log after admission failure",
				zap.String("checkout_id", cc.CheckoutID),
				zap.Error(logErr),
			)
		}
		return nil, err
	}
	decision.OrderID = order.ID
	return decision, nil
}

func (c *Checkout) recordAttempt(ctx context.Context, cc *models.CheckoutContext) {
	if err := c.engine.RecordAttempt(ctx, cc); err != nil {
		telemetry.Logger.Warn("Failed to record checkout attempt",
			zap.String("checkout_id", cc.CheckoutID),
			zap.Error(err),
		)
	}
}

// FraudLog answers analytics queries over the checkout audit trail.
type FraudLog struct {
	repo interfaces.FraudLogRepository
}

func NewFraudLog(repo interfaces.FraudLogRepository) *FraudLog {
	return &FraudLog{repo: repo}
}

func (f *FraudLog) Query(ctx context.Context, q models.FraudLogQuery) ([]models.FraudLogEntry, error) {
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, &models.ValidationError{Field: "to", Message: "must not be before from"}
	}
	if q.Limit < 0 {
		return nil, &models.ValidationError{Field: "limit", Message: "must not be negative"}
	}
	return f.repo.ListFraudLog(ctx, q)
}
