package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects runner metrics.
//
// Metrics exposed (namespace "agentgraph"):
//
//  1. node_invocations_total (counter): node invocations.
//     Labels: node_id, status (success, error).
//  2. node_latency_ms (histogram): node invocation duration.
//     Labels: node_id, status.
//  3. node_cost_usd_total (counter): USD reported by node invocations.
//     Labels: node_id.
//  4. queue_depth (gauge): messages waiting in the queue of the most
//     recently updated run.
//  5. join_waiting_messages (gauge): messages buffered for joins.
//     Labels: node_id.
//  6. runs_total (counter): finished runs.
//     Labels: outcome (success, capped, or an engine error code).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(invoker, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics records nothing.
type PrometheusMetrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cost        *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	joinWaiting *prometheus.GaugeVec
	runs        *prometheus.CounterVec
}

// NewPrometheusMetrics registers the runner metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "node_invocations_total",
			Help:      "Node invocations by outcome",
		}, []string{"node_id", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "node_latency_ms",
			Help:      "Node invocation duration in milliseconds",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 240000},
		}, []string{"node_id", "status"}),
		cost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "node_cost_usd_total",
			Help:      "USD cost reported by node invocations",
		}, []string{"node_id"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentgraph",
			Name:      "queue_depth",
			Help:      "Messages waiting in the run queue",
		}),
		joinWaiting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentgraph",
			Name:      "join_waiting_messages",
			Help:      "Messages buffered until a join is satisfied",
		}, []string{"node_id"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "runs_total",
			Help:      "Finished workflow runs by outcome",
		}, []string{"outcome"}),
	}
}

func (pm *PrometheusMetrics) recordInvocation(nodeID string, latency time.Duration, cost float64, failed bool) {
	if pm == nil {
		return
	}
	status := "success"
	if failed {
		status = "error"
	}
	pm.invocations.WithLabelValues(nodeID, status).Inc()
	pm.latency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
	if cost > 0 {
		pm.cost.WithLabelValues(nodeID).Add(cost)
	}
}

func (pm *PrometheusMetrics) updateQueueDepth(depth int) {
	if pm == nil {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

func (pm *PrometheusMetrics) updateJoinWaiting(nodeID string, n int) {
	if pm == nil {
		return
	}
	pm.joinWaiting.WithLabelValues(nodeID).Set(float64(n))
}

func (pm *PrometheusMetrics) recordRun(outcome string) {
	if pm == nil {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}
