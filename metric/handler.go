package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler serving the registry's metrics in
// Prometheus exposition format. The gateway mounts this at /metrics.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(
		r.prometheusRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
}
