package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// GraphQLRequest mirrors the standard GraphQL request body.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLError mirrors the standard GraphQL error shape.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLResponse mirrors the standard GraphQL response body.
type GraphQLResponse struct {
	Data   map[string]any  `json:"data,omitempty"`
	Errors []*GraphQLError `json:"errors,omitempty"`
}

// QueryHandler produces the response for a non-entity query.
type QueryHandler func(req GraphQLRequest) *GraphQLResponse

// EntityResolver produces one entity object (or nil) per incoming
// representation, in order.
type EntityResolver func(representations []map[string]any) []map[string]any

// MockSubgraph is an in-process federation subgraph for tests.
type MockSubgraph struct {
	Name string
	SDL  string

	mu        sync.Mutex
	server    *httptest.Server
	queries   []QueryHandler
	entities  EntityResolver
	requests  []GraphQLRequest
	failWith  int
	delay     time.Duration
	failCount int
}

// NewMockSubgraph starts a subgraph server with the given SDL. Callers
// must Close it.
func NewMockSubgraph(name, sdl string) *MockSubgraph {
	m := &MockSubgraph{Name: name, SDL: sdl}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

// URL returns the subgraph's endpoint.
func (m *MockSubgraph) URL() string { return m.server.URL }

// Close shuts the server down.
func (m *MockSubgraph) Close() { m.server.Close() }

// HandleQuery appends a handler tried in order for non-entity queries;
// the first non-nil response wins.
func (m *MockSubgraph) HandleQuery(h QueryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, h)
}

// ResolveEntities sets the _entities resolver.
func (m *MockSubgraph) ResolveEntities(r EntityResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = r
}

// FailNext makes the next n requests return the given HTTP status.
func (m *MockSubgraph) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount = n
	m.failWith = status
}

// SetDelay delays every response, for timeout and slow-probe tests.
func (m *MockSubgraph) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns a copy of every GraphQL request received so far.
func (m *MockSubgraph) Requests() []GraphQLRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GraphQLRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// EntityCalls returns the representation batches received by _entities.
func (m *MockSubgraph) EntityCalls() [][]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]map[string]any
	for _, req := range m.requests {
		if reps, ok := representationsOf(req); ok {
			out = append(out, reps)
		}
	}
	return out
}

func (m *MockSubgraph) serve(w http.ResponseWriter, r *http.Request) {
	var req GraphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	delay := m.delay
	fail := false
	status := m.failWith
	if m.failCount > 0 {
		m.failCount--
		fail = true
	}
	entities := m.entities
	handlers := make([]QueryHandler, len(m.queries))
	copy(handlers, m.queries)
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		http.Error(w, "mock failure", status)
		return
	}

	resp := m.respond(req, entities, handlers)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (m *MockSubgraph) respond(req GraphQLRequest, entities EntityResolver, handlers []QueryHandler) *GraphQLResponse {
	if strings.Contains(req.Query, "_service") {
		return &GraphQLResponse{Data: map[string]any{
			"_service": map[string]any{"sdl": m.SDL},
		}}
	}

	if reps, ok := representationsOf(req); ok {
		if entities == nil {
			return &GraphQLResponse{Errors: []*GraphQLError{
				{Message: "no entity resolver configured"},
			}}
		}
		resolved := entities(reps)
		items := make([]any, len(resolved))
		for i, e := range resolved {
			if e == nil {
				items[i] = nil
			} else {
				items[i] = e
			}
		}
		return &GraphQLResponse{Data: map[string]any{"_entities": items}}
	}

	// Health probes ask for __typename only.
	if strings.Contains(req.Query, "__typename") && len(req.Variables) == 0 {
		return &GraphQLResponse{Data: map[string]any{"__typename": "Query"}}
	}

	for _, h := range handlers {
		if resp := h(req); resp != nil {
			return resp
		}
	}
	return &GraphQLResponse{Errors: []*GraphQLError{
		{Message: "unhandled query: " + req.Query},
	}}
}

func representationsOf(req GraphQLRequest) ([]map[string]any, bool) {
	if !strings.Contains(req.Query, "_entities") {
		return nil, false
	}
	raw, ok := req.Variables["representations"]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	reps := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			reps = append(reps, obj)
		}
	}
	return reps, true
}
