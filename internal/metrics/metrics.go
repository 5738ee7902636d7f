package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RiskEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_evaluations_total",
		Help: "Checkout risk evaluations by recommendation.",
	}, []string{"recommendation"})

	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "risk_score",
		Help:    "Distribution of checkout risk scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	RiskFactorDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_factor_degraded_total",
		Help: "Risk factors scored as zero because their evidence source failed.",
	}, []string{"factor"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Accepted order transitions.",
	}, []string{"from", "to"})

	TransitionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transition_rejections_total",
		Help: "Rejected order transitions by reason.",
	}, []string{"reason"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification intents by kind and result.",
	}, []string{"kind", "result"})

	PaymentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Provider payment events by kind and outcome.",
	}, []string{"kind", "outcome"})
)
