// Package risk scores checkout attempts for fraud before an order exists.
package risk

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akylbek/commerce/order-lifecycle/internal/interfaces"
	"github.com/akylbek/commerce/order-lifecycle/internal/metrics"
	"github.com/akylbek/commerce/order-lifecycle/internal/models"
	"github.com/akylbek/commerce/order-lifecycle/internal/telemetry"
)

var errLookupTimeout = errors.New("lookup timed out")

type Options struct {
	Velocity    interfaces.VelocityStore
	History     interfaces.CustomerHistorySource
	Chargebacks interfaces.ChargebackLookup

	// Deadline bounds the whole evaluation, LookupTimeout each evidence source.
	Deadline      time.Duration
	LookupTimeout time.Duration
	Clock         func() time.Time
}

type Engine struct {
	policy *Policy
	opts   Options
}

func NewEngine(policy *Policy, opts Options) *Engine {
	if opts.Deadline <= 0 {
		opts.Deadline = 300 * time.Millisecond
	}
	if opts.LookupTimeout <= 0 || opts.LookupTimeout > opts.Deadline {
		opts.LookupTimeout = opts.Deadline
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{policy: policy, opts: opts}
}

func (e *Engine) Policy() *Policy {
	return e.policy
}

// Evaluate gathers evidence under the deadline and scores it. It never fails: sources
// that error or time out are scored as zero and show up as degraded factors.
func (e *Engine) Evaluate(ctx context.Context, cc *models.CheckoutContext) models.Assessment {
	ctx, span := telemetry.Tracer.Start(ctx, "risk.Evaluate")
	defer span.End()

	ev := e.Gather(ctx, cc)
	a := Score(e.policy, cc, ev)

	for _, f := range a.Factors {
		if IsDegraded(f) {
			metrics.RiskFactorDegraded.WithLabelValues(strings.TrimSuffix(f.Name, degradedSuffix)).Inc()
			telemetry.Logger.Warn("Risk factor degraded",
				zap.String("checkout_id", cc.CheckoutID),
				zap.String("factor", f.Name),
				zap.String("evidence", f.Evidence),
			)
		}
	}
	metrics.RiskEvaluations.WithLabelValues(string(a.Recommendation)).Inc()
	metrics.RiskScore.Observe(float64(a.Score))

	span.SetAttributes(
		attribute.Int("risk.score", a.Score),
		attribute.String("risk.recommendation", string(a.Recommendation)),
		attribute.String("risk.policy_version", a.PolicyVersion),
		attribute.Bool("risk.degraded", a.Degraded),
	)
	return a
}

type velocityResult struct {
	email, ip int64
	err       error
}

type historyResult struct {
	history models.CustomerHistory
	err     error
}

type chargebackResult struct {
	count int
	err   error
}

// Gather runs the evidence lookups in parallel. Each result lands on its own buffered
// channel so a lookup that ignores its context cannot hold the checkout past the deadline.
// After a deadline the goroutine waiting on the group outlives the call until every
// lookup returns; LookupTimeout bounds that for sources that honour their context.
func (e *Engine) Gather(ctx context.Context, cc *models.CheckoutContext) Evidence {
	dctx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()

	var (
		g            errgroup.Group
		velocityCh   chan velocityResult
		historyCh    chan historyResult
		chargebackCh chan chargebackResult
	)

	if e.opts.Velocity != nil {
		velocityCh = make(chan velocityResult, 1)
		g.Go(func() error {
			velocityCh <- e.lookupVelocity(dctx, cc)
			return nil
		})
	}
	if e.opts.History != nil {
		historyCh = make(chan historyResult, 1)
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(dctx, e.opts.LookupTimeout)
			defer cancel()
			h, err := e.opts.History.CustomerHistory(lctx, normalizeEmail(cc.Email), cc.Amount.Currency)
			historyCh <- historyResult{history: h, err: err}
			return nil
		})
	}
	if e.opts.Chargebacks != nil {
		chargebackCh = make(chan chargebackResult, 1)
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(dctx, e.opts.LookupTimeout)
			defer cancel()
			n, err := e.opts.Chargebacks.Chargebacks(lctx, normalizeEmail(cc.Email))
			chargebackCh <- chargebackResult{count: n, err: err}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var ev Evidence
	select {
	case <-done:
	case <-dctx.Done():
		ev.DeadlineExceeded = ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded)
	}

	if velocityCh != nil {
		select {
		case r := <-velocityCh:
			ev.EmailAttempts, ev.IPAttempts, ev.VelocityErr = r.email, r.ip, r.err
		default:
			ev.VelocityErr = errLookupTimeout
		}
	}
	if historyCh != nil {
		select {
		case r := <-historyCh:
			ev.History, ev.HistoryErr = r.history, r.err
		default:
			ev.HistoryErr = errLookupTimeout
		}
	}
	if chargebackCh != nil {
		select {
		case r := <-chargebackCh:
			ev.Chargebacks, ev.ChargebackErr = r.count, r.err
		default:
			ev.ChargebackErr = errLookupTimeout
		}
	}
	return ev
}

func (e *Engine) lookupVelocity(ctx context.Context, cc *models.CheckoutContext) velocityResult {
	ctx, cancel := context.WithTimeout(ctx, e.opts.LookupTimeout)
	defer cancel()

	now := e.opts.Clock()
	since := now.Add(-e.policy.Velocity.Window)

	var r velocityResult
	if cc.Email != "" {
		r.email, r.err = e.opts.Velocity.CountAttempts(ctx, EmailKey(cc.Email), since, now)
		if r.err != nil {
			return r
		}
	}
	if cc.IP != "" {
		r.ip, r.err = e.opts.Velocity.CountAttempts(ctx, IPKey(cc.IP), since, now)
	}
	return r
}

// RecordAttempt feeds the velocity counters. Checkout calls it after scoring so that
// scoring itself stays free of side effects.
func (e *Engine) RecordAttempt(ctx context.Context, cc *models.CheckoutContext) error {
	if e.opts.Velocity == nil {
		return nil
	}
	now := e.opts.Clock()
	if cc.Email != "" {
		if err := e.opts.Velocity.RecordAttempt(ctx, EmailKey(cc.Email), now); err != nil {
			return err
		}
	}
	if cc.IP != "" {
		return e.opts.Velocity.RecordAttempt(ctx, IPKey(cc.IP), now)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func EmailKey(email string) string {
	return "email:" + normalizeEmail(email)
}

func IPKey(ip string) string {
	return "ip:" + ip
}
