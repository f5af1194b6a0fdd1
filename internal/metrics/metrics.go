// Package metrics exposes sync run measurements in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RebootGod/catalogsync/internal/bulksync"
)

const namespace = "catalogsync"

// Metrics implements bulksync.Observer on its own registry.
type Metrics struct {
	registry      *prometheus.Registry
	items         *prometheus.CounterVec
	runs          *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items that reached an outcome, by entity type and outcome.",
		}, []string{"entity_type", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished sync runs, by entity type and final status.",
		}, []string{"entity_type", "status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time spent processing one batch.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"entity_type"}),
	}
	m.registry.MustRegister(
		m.items, m.runs, m.batchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveBatch(entityType bulksync.EntityType, res bulksync.BatchResult, elapsed time.Duration) {
	et := string(entityType)
	m.items.WithLabelValues(et, string(bulksync.OutcomeSuccess)).Add(float64(res.Success))
	m.items.WithLabelValues(et, string(bulksync.OutcomeFailed)).Add(float64(res.Failed))
	m.items.WithLabelValues(et, string(bulksync.OutcomeSkipped)).Add(float64(res.Skipped))
	m.batchDuration.WithLabelValues(et).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRun(entityType bulksync.EntityType, status bulksync.Status) {
	m.runs.WithLabelValues(string(entityType), string(status)).Inc()
}

// Handler serves the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
