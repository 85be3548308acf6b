// internal/pkg/metrics/billing_metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics counts what the membership lifecycle does.
type BillingMetrics struct {
	charges       *prometheus.CounterVec
	chargeAmount  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	guardDecision *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	couponRedeems *prometheus.CounterVec
}

func NewBillingMetrics(registry prometheus.Registerer) *BillingMetrics {
	factory := promauto.With(registry)

	return &BillingMetrics{
		charges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_charges_total",
				Help: "Membership charge attempts by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),
		chargeAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "membership_charge_amount_cents",
				Help:    "Distribution of successful charge amounts",
				Buckets: prometheus.ExponentialBuckets(50, 4, 7),
			},
			[]string{"currency"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_status_transitions_total",
				Help: "Subscription status changes by target status",
			},
			[]string{"status"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_events_total",
				Help: "Provider webhook events by type and result",
			},
			[]string{"type", "result"},
		),
		guardDecision: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_guard_decisions_total",
				Help: "Access guard outcomes",
			},
			[]string{"decision"},
		),
		sweepItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "membership_sweep_items_total",
				Help: "Accounts processed by scheduled sweeps",
			},
			[]string{"sweep", "outcome"},
		),
		couponRedeems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coupon_redemptions_total",
				Help: "Coupon usage increments by code",
			},
			[]string{"code"},
		),
	}
}

func (m *BillingMetrics) ObserveCharge(origin string, succeeded bool, amountCents int64, currency string) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
		m.chargeAmount.WithLabelValues(currency).Observe(float64(amountCents))
	}
	m.charges.WithLabelValues(origin, outcome).Inc()
}

func (m *BillingMetrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) IncWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *BillingMetrics) IncGuard(decision string) {
	if m == nil {
		return
	}
	m.guardDecision.WithLabelValues(decision).Inc()
}

func (m *BillingMetrics) IncSweep(sweep, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(sweep, outcome).Inc()
}

func (m *BillingMetrics) IncCouponRedeemed(code string) {
	if m == nil {
		return
	}
	m.couponRedeems.WithLabelValues(code).Inc()
}
