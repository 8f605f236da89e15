package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestRegisterCounter_Duplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total"})
	err := registry.RegisterCounter("planner", "test_counter", c1)
	require.NoError(t, err)

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_counter_total"})
	err = registry.RegisterCounter("planner", "test_counter", c2)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "transient_counter_total"})
	require.NoError(t, registry.RegisterCounter("executor", "transient", c))

	assert.True(t, registry.Unregister("executor", "transient"))
	assert.False(t, registry.Unregister("executor", "transient"))

	// Re-registration after unregister must succeed (reload path)
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "transient_counter_total"})
	assert.NoError(t, registry.RegisterCounter("executor", "transient", c2))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordRequest("success", 10*time.Millisecond)
	m.RecordPlanBuilt()
	m.RecordFetch("workflows", "success", 5*time.Millisecond)
	m.RecordEntityBatch(3)
	m.RecordProbe("workflows", time.Millisecond)
	m.RecordSubgraphState("workflows", 0)
	m.RecordComposition("success", 2)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fedgateway_requests_total"])
	assert.True(t, names["fedgateway_executor_fetches_total"])
	assert.True(t, names["fedgateway_schema_generation"])
}

func TestHandler_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordPlanBuilt()

	srv := httptest.NewServer(registry.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
