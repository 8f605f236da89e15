package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/fedgateway/errors"
)

// MetricsRegistrar defines the interface for registering component metrics
type MetricsRegistrar interface {
	RegisterCounter(component, metricName string, counter prometheus.Counter) error
	RegisterGauge(component, metricName string, gauge prometheus.Gauge) error
	RegisterCounterVec(component, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(component, metricName string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(component, metricName string, histogramVec *prometheus.HistogramVec) error
	Unregister(component, metricName string) bool
}

// MetricsRegistry manages the registration and lifecycle of gateway metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with core gateway metrics
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.registerCore()

	// Go runtime and process metrics
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core gateway metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// register adds a collector under a component-scoped key, rejecting duplicates.
func (r *MetricsRegistry) register(component, metricName, kind string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", metricName, component),
			"MetricsRegistry", kind, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", kind,
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", kind, "prometheus registration")
	}

	r.registeredMetrics[key] = c
	return nil
}

// RegisterCounter registers a counter metric for a component
func (r *MetricsRegistry) RegisterCounter(component, metricName string, counter prometheus.Counter) error {
	return r.register(component, metricName, "RegisterCounter", counter)
}

// RegisterGauge registers a gauge metric for a component
func (r *MetricsRegistry) RegisterGauge(component, metricName string, gauge prometheus.Gauge) error {
	return r.register(component, metricName, "RegisterGauge", gauge)
}

// RegisterCounterVec registers a counter vector metric for a component
func (r *MetricsRegistry) RegisterCounterVec(component, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register(component, metricName, "RegisterCounterVec", counterVec)
}

// RegisterGaugeVec registers a gauge vector metric for a component
func (r *MetricsRegistry) RegisterGaugeVec(component, metricName string, gaugeVec *prometheus.GaugeVec) error {
	return r.register(component, metricName, "RegisterGaugeVec", gaugeVec)
}

// RegisterHistogramVec registers a histogram vector metric for a component
func (r *MetricsRegistry) RegisterHistogramVec(component, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register(component, metricName, "RegisterHistogramVec", histogramVec)
}

// Unregister removes a previously registered metric.
// Returns true if the metric existed and was removed.
func (r *MetricsRegistry) Unregister(component, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metricName)
	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	r.prometheusRegistry.Unregister(c)
	delete(r.registeredMetrics, key)
	return true
}

// registerCore registers the core gateway metrics with the Prometheus registry
func (r *MetricsRegistry) registerCore() {
	m := r.Metrics
	r.prometheusRegistry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.PlansBuilt,
		m.PlanningErrors,
		m.FetchesTotal,
		m.FetchDuration,
		m.EntityBatchSize,
		m.ProbeDuration,
		m.SubgraphState,
		m.SchemaGeneration,
		m.CompositionsTotal,
	)
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)
