// Package metrics exposes execution/scheduler telemetry as Prometheus
// collectors, namespaced "agentflow".
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors the engine reports scheduler activity
// through. It implements engine.MetricsRecorder structurally, so the
// engine package never imports prometheus directly.
type Metrics struct {
	executionsInFlight prometheus.Gauge
	executionsTotal    *prometheus.CounterVec
	stepLatency        *prometheus.HistogramVec
	retries            *prometheus.CounterVec
}

// New registers every collector with registry (pass nil for
// prometheus.DefaultRegisterer).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		executionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "executions_inflight",
			Help:      "Current number of executions running in this process",
		}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "executions_total",
			Help:      "Cumulative count of executions reaching a terminal state",
		}, []string{"status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "step_latency_ms",
			Help:      "Node dispatch duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"node_id"}),
	}
}

func (m *Metrics) ExecutionStarted() { m.executionsInFlight.Inc() }

func (m *Metrics) ExecutionFinished(status string) {
	m.executionsInFlight.Dec()
	m.executionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) StepObserved(nodeID string, dur time.Duration, status string) {
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) RetryObserved(nodeID string) {
	m.retries.WithLabelValues(nodeID).Inc()
}
