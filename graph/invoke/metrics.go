package invoke

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CallMetrics exposes Prometheus metrics for model calls.
//
//	agentgraph_model_calls_total{provider, model, outcome}
//	agentgraph_model_call_seconds{provider, model}
//	agentgraph_model_spend_usd_total{provider, model}
//	agentgraph_model_fallbacks_total{requested, used}
//
// Outcome is "success", "empty" or an error category. A nil *CallMetrics is
// valid and records nothing.
type CallMetrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	spend     *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

// NewCallMetrics registers the call metrics with registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewCallMetrics(registry prometheus.Registerer) *CallMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &CallMetrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "model_calls_total",
			Help:      "Model call attempts by outcome",
		}, []string{"provider", "model", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "model_call_seconds",
			Help:      "Model call attempt duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		}, []string{"provider", "model"}),
		spend: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "model_spend_usd_total",
			Help:      "USD spent on model calls",
		}, []string{"provider", "model"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "model_fallbacks_total",
			Help:      "Fallback model substitutions after timeouts",
		}, []string{"requested", "used"}),
	}
}

func (m *CallMetrics) observe(h Handle, outcome string, elapsed time.Duration, cost float64) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(h.Provider, h.Model, outcome).Inc()
	m.latency.WithLabelValues(h.Provider, h.Model).Observe(elapsed.Seconds())
	if cost > 0 {
		m.spend.WithLabelValues(h.Provider, h.Model).Add(cost)
	}
}

func (m *CallMetrics) fallback(requested, used string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(requested, used).Inc()
}
