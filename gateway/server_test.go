package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/metric"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	gw := newTestGateway(t, staticHealth{})
	registry := metric.NewMetricsRegistry()

	s, err := NewServer(cfg, gw.handler, nil, registry, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_Endpoints(t *testing.T) {
	_, ts := newTestServer(t, Config{Playground: true})

	t.Run("graphql", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/graphql", "application/json",
			jsonBody(`{"query": "{ workflow(id: \"w1\") { name } }"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body healthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "healthy", body.Status)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("playground", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "graphql")
	})
}

func TestServer_CORS(t *testing.T) {
	_, ts := newTestServer(t, Config{AllowedOrigins: []string{"https://app.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/graphql", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	// Disallowed origins get no CORS headers.
	req2, err := http.NewRequest(http.MethodOptions, ts.URL+"/graphql", nil)
	require.NoError(t, err)
	req2.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Lifecycle(t *testing.T) {
	gw := newTestGateway(t, staticHealth{})
	s, err := NewServer(Config{Address: "127.0.0.1:0"}, gw.handler, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(time.Second))
	assert.False(t, s.IsRunning())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	// Stop is idempotent.
	assert.NoError(t, s.Stop(time.Second))
}

func TestServer_RequiresHandler(t *testing.T) {
	_, err := NewServer(Config{}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
