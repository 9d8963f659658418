package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records payment gateway calls.
type GatewayMetrics struct {
	calls    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	m := &GatewayMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Logical gateway operations, by final outcome.",
		}, []string{"operation", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_attempts_total",
			Help:      "Physical gateway attempts including retries.",
		}, []string{"operation"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of logical gateway operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.calls, m.attempts, m.latency)
	return m
}

func (g *GatewayMetrics) IncAttempt(operation string) {
	if g == nil || g.attempts == nil {
		return
	}
	g.attempts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveCall records one finished logical operation.
func (g *GatewayMetrics) ObserveCall(operation, outcome string, took time.Duration) {
	if g == nil || g.calls == nil {
		return
	}
	g.calls.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	g.latency.WithLabelValues(normalizeLabel(operation)).Observe(took.Seconds())
}
