package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all gateway-level metrics (not component-specific)
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram

	// Planner metrics
	PlansBuilt     prometheus.Counter
	PlanningErrors prometheus.Counter

	// Executor metrics
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	EntityBatchSize prometheus.Histogram

	// Health metrics
	ProbeDuration *prometheus.HistogramVec
	SubgraphState *prometheus.GaugeVec

	// Schema metrics
	SchemaGeneration  prometheus.Gauge
	CompositionsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fedgateway",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of GraphQL requests handled",
			},
			[]string{"status"},
		),

		RequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fedgateway",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		PlansBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fedgateway",
				Subsystem: "planner",
				Name:      "plans_built_total",
				Help:      "Total number of query plans built (cache misses)",
			},
		),

		PlanningErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fedgateway",
				Subsystem: "planner",
				Name:      "errors_total",
				Help:      "Total number of queries rejected at planning time",
			},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fedgateway",
				Subsystem: "executor",
				Name:      "fetches_total",
				Help:      "Total number of subgraph fetches dispatched",
			},
			[]string{"subgraph", "status"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fedgateway",
				Subsystem: "executor",
				Name:      "fetch_duration_seconds",
				Help:      "Subgraph fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"subgraph"},
		),

		EntityBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fedgateway",
				Subsystem: "executor",
				Name:      "entity_batch_size",
				Help:      "Number of representations per _entities call",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),

		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fedgateway",
				Subsystem: "health",
				Name:      "probe_duration_seconds",
				Help:      "Subgraph health probe duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"subgraph"},
		),

		SubgraphState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fedgateway",
				Subsystem: "health",
				Name:      "subgraph_state",
				Help:      "Subgraph operational state (0=healthy, 1=degraded, 2=down)",
			},
			[]string{"subgraph"},
		),

		SchemaGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fedgateway",
				Subsystem: "schema",
				Name:      "generation",
				Help:      "Current composed schema generation counter",
			},
		),

		CompositionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fedgateway",
				Subsystem: "schema",
				Name:      "compositions_total",
				Help:      "Total number of schema composition attempts",
			},
			[]string{"status"},
		),
	}
}

// RecordRequest increments the request counter and records duration
func (m *Metrics) RecordRequest(status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RequestDuration.Observe(duration.Seconds())
}

// RecordPlanBuilt increments the plans-built counter
func (m *Metrics) RecordPlanBuilt() {
	m.PlansBuilt.Inc()
}

// RecordPlanningError increments the planning error counter
func (m *Metrics) RecordPlanningError() {
	m.PlanningErrors.Inc()
}

// RecordFetch increments the fetch counter and records duration
func (m *Metrics) RecordFetch(subgraph, status string, duration time.Duration) {
	m.FetchesTotal.WithLabelValues(subgraph, status).Inc()
	m.FetchDuration.WithLabelValues(subgraph).Observe(duration.Seconds())
}

// RecordEntityBatch records the size of a batched _entities call
func (m *Metrics) RecordEntityBatch(size int) {
	m.EntityBatchSize.Observe(float64(size))
}

// RecordProbe records a health probe duration
func (m *Metrics) RecordProbe(subgraph string, duration time.Duration) {
	m.ProbeDuration.WithLabelValues(subgraph).Observe(duration.Seconds())
}

// RecordSubgraphState updates the subgraph state gauge
func (m *Metrics) RecordSubgraphState(subgraph string, state int) {
	m.SubgraphState.WithLabelValues(subgraph).Set(float64(state))
}

// RecordComposition records a composition attempt and, on success, the new generation
func (m *Metrics) RecordComposition(status string, generation uint64) {
	m.CompositionsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.SchemaGeneration.Set(float64(generation))
	}
}
