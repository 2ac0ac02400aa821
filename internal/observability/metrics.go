// Package observability exports Prometheus metrics for the masking
// pipeline. Metrics never carry identities or masked values as labels.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"replyguard/internal/masking"
	"replyguard/internal/ratelimit"
)

const namespace = "replyguard"

// Metrics holds the collectors. It implements masking.Observer and
// ratelimit.Hooks so it can be plugged into both directly.
type Metrics struct {
	limiterDecisions *prometheus.CounterVec
	maskedSpans      *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	logins           *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them through promhttp.Handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		limiterDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by pool and result.",
		}, []string{"pool", "result"}),
		maskedSpans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masked_spans_total",
			Help:      "Sensitive spans masked before reaching the provider, by category.",
		}, []string{"category"}),
		providerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Generation provider calls by model and outcome.",
		}, []string{"model", "outcome"}),
		providerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Generation provider call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"model"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// SpanMasked implements masking.Observer.
func (m *Metrics) SpanMasked(category masking.Category) {
	m.maskedSpans.WithLabelValues(string(category)).Inc()
}

// Decided implements ratelimit.Hooks.
func (m *Metrics) Decided(kind ratelimit.Kind, _ string, d ratelimit.Decision) {
	result := "permitted"
	if !d.Allowed {
		result = "rejected"
	}
	m.limiterDecisions.WithLabelValues(string(kind), result).Inc()
}

// ProviderCall records one provider call. outcome is "ok" or "error".
func (m *Metrics) ProviderCall(model, outcome string, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(model, outcome).Inc()
	m.providerDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// Login records one login attempt outcome.
func (m *Metrics) Login(outcome string) {
	m.logins.WithLabelValues(outcome).Inc()
}
