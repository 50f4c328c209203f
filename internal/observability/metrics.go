// Package observability exposes Prometheus metrics for the fallback walk.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chatgate/internal/fallback"
)

// PrometheusHooks implements fallback.Hooks.
type PrometheusHooks struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
}

var _ fallback.Hooks = (*PrometheusHooks)(nil)

// NewPrometheusHooks registers the metrics on the default registry.
func NewPrometheusHooks() *PrometheusHooks {
	return NewPrometheusHooksWith(prometheus.DefaultRegisterer)
}

// NewPrometheusHooksWith registers the metrics on reg.
func NewPrometheusHooksWith(reg prometheus.Registerer) *PrometheusHooks {
	factory := promauto.With(reg)
	return &PrometheusHooks{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_attempts_total",
				Help: "Upstream attempts by provider, model and outcome (accepted, empty, failed)",
			},
			[]string{"provider", "model", "outcome"},
		),
		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatgate_attempt_duration_seconds",
				Help:    "Duration of upstream attempts",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatgate_requests_total",
				Help: "Chat requests by result (success, exhausted, cancelled)",
			},
			[]string{"result"},
		),
	}
}

// OnAttempt implements fallback.Hooks.
func (h *PrometheusHooks) OnAttempt(provider, model string, outcome fallback.Outcome, duration time.Duration) {
	h.attempts.WithLabelValues(provider, model, outcome.String()).Inc()
	h.attemptDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// OnComplete implements fallback.Hooks.
func (h *PrometheusHooks) OnComplete(result string) {
	h.requests.WithLabelValues(result).Inc()
}
