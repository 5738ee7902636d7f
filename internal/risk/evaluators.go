package risk

import (
	"fmt"
	"strings"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

// Evidence is everything the evaluators may look at beyond the checkout context.
// A nil error with a zero value means the signal was simply absent.
type Evidence struct {
	EmailAttempts int64
	IPAttempts    int64
	VelocityErr   error

	History    models.CustomerHistory
	HistoryErr error

	Chargebacks   int
	ChargebackErr error

	DeadlineExceeded bool
}

const (
	FactorVelocity         = "velocity"
	FactorAmountAnomaly    = "amount_anomaly"
	FactorGeoMismatch      = "geo_mismatch"
	FactorDisposableEmail  = "disposable_email"
	FactorNewAccount       = "new_account"
	FactorCustomerHistory  = "customer_history"
	FactorChargebacks      = "chargeback_history"
	FactorDeadlineExceeded = "evaluation_deadline_exceeded"

	degradedSuffix = "_degraded"
)

type evaluator struct {
	name string
	eval func(p *Policy, cc *models.CheckoutContext, ev *Evidence) (models.Factor, bool)
}

// evaluators run in this order; the order is part of the policy's output contract.
var evaluators = []evaluator{
	{FactorVelocity, velocityFactor},
	{FactorAmountAnomaly, amountFactor},
	{FactorGeoMismatch, geoFactor},
	{FactorDisposableEmail, disposableFactor},
	{FactorNewAccount, newAccountFactor},
	{FactorCustomerHistory, historyFactor},
	{FactorChargebacks, chargebackFactor},
}

func degraded(name string, err error) (models.Factor, bool) {
	return models.Factor{Name: name + degradedSuffix, Weight: 0, Evidence: err.Error()}, true
}

// IsDegraded reports whether a factor records an unavailable evidence source.
func IsDegraded(f models.Factor) bool {
	return strings.HasSuffix(f.Name, degradedSuffix)
}

func velocityFactor(p *Policy, _ *models.CheckoutContext, ev *Evidence) (models.Factor, bool) {
	if ev.VelocityErr != nil {
		return degraded(FactorVelocity, ev.VelocityErr)
	}
	n := ev.EmailAttempts
	if ev.IPAttempts > n {
		n = ev.IPAttempts
	}
	evidence := fmt.Sprintf("%d attempts in %s", n, p.Velocity.Window)
	switch {
	case n > p.Velocity.HighAttempts:
		return models.Factor{Name: FactorVelocity, Weight: p.Velocity.HighWeight, Evidence: evidence}, true
	case n > p.Velocity.WarnAttempts:
		return models.Factor{Name: FactorVelocity, Weight: p.Velocity.WarnWeight, Evidence: evidence}, true
	}
	return models.Factor{}, false
}

func amountFactor(p *Policy, cc *models.CheckoutContext, ev *Evidence) (models.Factor, bool) {
	amount := cc.Amount.Amount
	weight := 0
	var notes []string
	if p.Amount.LargeAmount > 0 && amount >= p.Amount.LargeAmount {
		weight += p.Amount.LargeWeight
		notes = append(notes, fmt.Sprintf("%s at or above %d", cc.Amount, p.Amount.LargeAmount))
	}
	if ev.HistoryErr == nil && ev.History.PaidOrders >= p.Amount.MinHistory && p.Amount.AnomalyMultiple > 0 {
		mean := ev.History.MeanAmount()
		if mean > 0 && amount >= mean*p.Amount.AnomalyMultiple {
			weight += p.Amount.AnomalyWeight
			notes = append(notes, fmt.Sprintf("%dx historical mean %d", amount/mean, mean))
		}
	}
	if weight == 0 {
		return models.Factor{}, false
	}
	return models.Factor{Name: FactorAmountAnomaly, Weight: clampWeight(weight), Evidence: strings.Join(notes, "; ")}, true
}

func geoFactor(p *Policy, cc *models.CheckoutContext, _ *Evidence) (models.Factor, bool) {
	var known []string
	for _, c := range []string{cc.BillingCountry, cc.ShippingCountry, cc.IPCountry} {
		if c != "" {
			known = append(known, strings.ToUpper(c))
		}
	}
	if len(known) < 2 {
		return models.Factor{}, false
	}
	for _, c := range known[1:] {
		if c != known[0] {
			return models.Factor{
				Name:   FactorGeoMismatch,
				Weight: p.GeoMismatch,
				Evidence: fmt.Sprintf("billing=%s shipping=%s ip=%s",
					orDash(cc.BillingCountry), orDash(cc.ShippingCountry), orDash(cc.IPCountry)),
			}, true
		}
	}
	return models.Factor{}, false
}

func disposableFactor(p *Policy, cc *models.CheckoutContext, _ *Evidence) (models.Factor, bool) {
	if !p.isDisposable(cc.Email) {
		return models.Factor{}, false
	}
	return models.Factor{Name: FactorDisposableEmail, Weight: p.Email.DisposableWeight, Evidence: "disposable domain"}, true
}

func newAccountFactor(p *Policy, cc *models.CheckoutContext, _ *Evidence) (models.Factor, bool) {
	if !cc.NewAccount {
		return models.Factor{}, false
	}
	return models.Factor{Name: FactorNewAccount, Weight: p.NewAccount, Evidence: "account created during checkout"}, true
}

// historyFactor also carries the history lookup failure, which the amount anomaly check
// depends on too.
func historyFactor(p *Policy, _ *models.CheckoutContext, ev *Evidence) (models.Factor, bool) {
	if ev.HistoryErr != nil {
		return degraded(FactorCustomerHistory, ev.HistoryErr)
	}
	if p.History.KnownGoodOrders <= 0 {
		return models.Factor{}, false
	}
	if ev.History.PaidOrders < p.History.KnownGoodOrders {
		return models.Factor{}, false
	}
	return models.Factor{
		Name:     FactorCustomerHistory,
		Weight:   p.History.KnownGoodWeight,
		Evidence: fmt.Sprintf("%d paid orders", ev.History.PaidOrders),
	}, true
}

func chargebackFactor(p *Policy, _ *models.CheckoutContext, ev *Evidence) (models.Factor, bool) {
	if ev.ChargebackErr != nil {
		return degraded(FactorChargebacks, ev.ChargebackErr)
	}
	if ev.Chargebacks <= 0 {
		return models.Factor{}, false
	}
	w := ev.Chargebacks * p.Chargeback.PerChargeback
	if w > p.Chargeback.Cap {
		w = p.Chargeback.Cap
	}
	return models.Factor{
		Name:     FactorChargebacks,
		Weight:   clampWeight(w),
		Evidence: fmt.Sprintf("%d prior chargebacks", ev.Chargebacks),
	}, true
}

func clampWeight(w int) int {
	if w < -100 {
		return -100
	}
	if w > 100 {
		return 100
	}
	return w
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ToUpper(s)
}

// Score is the pure half of the engine: same policy, context and evidence, same result.
func Score(p *Policy, cc *models.CheckoutContext, ev Evidence) models.Assessment {
	a := models.Assessment{PolicyVersion: p.Version, Factors: []models.Factor{}}
	total := 0
	for _, e := range evaluators {
		f, ok := e.eval(p, cc, &ev)
		if !ok {
			continue
		}
		f.Weight = clampWeight(f.Weight)
		if IsDegraded(f) {
			a.Degraded = true
		}
		total += f.Weight
		a.Factors = append(a.Factors, f)
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	a.Score = total
	a.Recommendation = p.Recommend(total)

	if ev.DeadlineExceeded {
		a.Degraded = true
		a.Factors = append(a.Factors, models.Factor{
			Name:     FactorDeadlineExceeded,
			Evidence: "fallback " + string(p.DeadlineFallback),
		})
		if p.DeadlineFallback.Severity() > a.Recommendation.Severity() {
			a.Recommendation = p.DeadlineFallback
		}
	}
	return a
}
