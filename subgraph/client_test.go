package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/errors"
)

func newTestClient() *Client {
	cfg := DefaultClientConfig()
	cfg.RetryMax = 0
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, nil)
}

func TestClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "{ workflows { id } }", req.Query)
		assert.Equal(t, "wf-1", req.Variables["id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"workflows":[{"id":"wf-1"}]}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient().Query(context.Background(), srv.URL, Request{
		Query:     "{ workflows { id } }",
		Variables: map[string]any{"id": "wf-1"},
	})

	require.NoError(t, err)
	assert.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"workflows":[{"id":"wf-1"}]}`, string(resp.Data))
}

func TestClient_Query_GraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"boom","path":["workflows",0]}]}`))
	}))
	defer srv.Close()

	resp, err := newTestClient().Query(context.Background(), srv.URL, Request{Query: "{ workflows { id } }"})

	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "boom", resp.Errors[0].Message)
	assert.Contains(t, resp.Errors[0].Error(), "workflows.0")
}

func TestClient_Query_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient().Query(context.Background(), srv.URL, Request{Query: "{ x }"})

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestClient_Query_RetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"__typename":"Query"}}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.RetryMax = 2
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	client := NewClient(cfg, nil)

	resp, err := client.Query(context.Background(), srv.URL, Request{Query: "{ __typename }"})

	require.NoError(t, err)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_FetchSDL(t *testing.T) {
	const sdl = `type Query { workflows: [Workflow!]! }`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "_service")

		payload := map[string]any{"data": map[string]any{"_service": map[string]any{"sdl": sdl}}}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	got, err := newTestClient().FetchSDL(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, sdl, got)
}

func TestClient_FetchSDL_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"_service":{"sdl":""}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient().FetchSDL(context.Background(), srv.URL)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedSDL)
}

func TestClient_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"__typename":"Query"}}`))
	}))
	defer srv.Close()

	latency, err := newTestClient().Probe(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Greater(t, latency, time.Duration(0))
}

func TestClient_Probe_Down(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // immediately unreachable

	_, err := newTestClient().Probe(context.Background(), srv.URL)

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestClient_Probe_NoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.RetryMax = 3
	client := NewClient(cfg, nil)

	_, err := client.Probe(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
