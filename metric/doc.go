// Package metric provides Prometheus metrics for the federation gateway.
//
// The MetricsRegistry owns a dedicated Prometheus registry and tracks every
// collector registered by gateway components, preventing duplicate
// registrations and allowing clean unregistration during reloads. Core
// gateway metrics (request counts, fetch outcomes per subgraph, probe
// latency, schema generation) are created once via NewMetrics and shared.
//
// Components register their own collectors through the MetricsRegistrar
// interface rather than the global Prometheus default registry so tests can
// run in isolation.
package metric
