package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "calbot"

// Metrics groups the collectors the engine reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	intents         *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmDuration     prometheus.Histogram
	breakerOpen     prometheus.Gauge
	batchOperations *prometheus.CounterVec
	batches         *prometheus.CounterVec
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		intents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Intents produced, by kind and source (detector or model).",
		}, []string{"kind", "source"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Completion requests by outcome.",
		}, []string{"outcome"}),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of completion requests that reached the service.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		breakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the completion circuit breaker rejects calls.",
		}),
		batchOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_operations_total",
			Help:      "Executed batch operations by outcome.",
		}, []string{"outcome"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch token transitions by resulting state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) Intent(kind, source string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) LLMRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.llmDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}

func (m *Metrics) BatchOperation(outcome string) {
	if m == nil {
		return
	}
	m.batchOperations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Batch(state string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(state).Inc()
}
