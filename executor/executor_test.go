package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/planner"
	"github.com/c360/fedgateway/schema"
	"github.com/c360/fedgateway/subgraph"
)

const workflowSDL = `
type Query {
	workflow(id: ID!): Workflow
	workflows: [Workflow!]!
}

type Mutation {
	startWorkflow(name: String!): Workflow
}

type Workflow @key(fields: "id") {
	id: ID!
	name: String!
}
`

const executionSDL = `
extend type Workflow @key(fields: "id") {
	id: ID! @external
	executions: [Execution!]
}

type Execution {
	id: ID!
}
`

const ticketSDL = `
extend type Query {
	tickets: [Ticket!]
}

extend type Mutation {
	closeTicket(id: ID!): Ticket
}

type Ticket @key(fields: "id") {
	id: ID!
	subject: String!
}
`

type fetchCall struct {
	endpoint string
	request  subgraph.Request
}

// fakeFetcher scripts responses per endpoint and records every call.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []fetchCall
	handlers map[string]func(req subgraph.Request) (*subgraph.Response, error)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{handlers: make(map[string]func(req subgraph.Request) (*subgraph.Response, error))}
}

func (f *fakeFetcher) respond(endpoint, data string) {
	f.handlers[endpoint] = func(subgraph.Request) (*subgraph.Response, error) {
		return &subgraph.Response{Data: json.RawMessage(data)}, nil
	}
}

func (f *fakeFetcher) fail(endpoint string, err error) {
	f.handlers[endpoint] = func(subgraph.Request) (*subgraph.Response, error) {
		return nil, err
	}
}

func (f *fakeFetcher) Query(_ context.Context, endpoint string, req subgraph.Request) (*subgraph.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{endpoint: endpoint, request: req})
	handler := f.handlers[endpoint]
	f.mu.Unlock()

	if handler == nil {
		return nil, fmt.Errorf("no handler for %s", endpoint)
	}
	return handler(req)
}

func (f *fakeFetcher) callsTo(endpoint string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []fetchCall
	for _, c := range f.calls {
		if c.endpoint == endpoint {
			calls = append(calls, c)
		}
	}
	return calls
}

type staticHealth map[string]health.State

func (s staticHealth) State(name string) health.State { return s[name] }
func (s staticHealth) IsDown(name string) bool        { return s[name] == health.StateDown }

func composeTestSchema(t *testing.T, sdls map[string]string) *schema.Composed {
	t.Helper()
	registry := schema.NewRegistry(nil, nil)
	for name, sdl := range sdls {
		require.NoError(t, registry.Register(name, "http://"+name+".local/graphql", sdl))
	}
	composed, err := registry.Compose()
	require.NoError(t, err)
	return composed
}

func defaultSchema(t *testing.T) *schema.Composed {
	return composeTestSchema(t, map[string]string{
		"workflows":  workflowSDL,
		"executions": executionSDL,
		"tickets":    ticketSDL,
	})
}

func buildPlan(t *testing.T, composed *schema.Composed, reader health.Reader, query string, vars map[string]any) *planner.Plan {
	t.Helper()
	p, err := planner.New(context.Background(), planner.Config{CacheSize: 10, CacheTTL: time.Minute}, reader, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	plan, err := p.Plan(composed, query, "", vars)
	require.NoError(t, err)
	return plan
}

func newTestExecutor(t *testing.T, fetcher Fetcher, reader health.Reader) *Executor {
	t.Helper()
	e, err := New(Config{}, fetcher, reader, nil, nil)
	require.NoError(t, err)
	return e
}

func TestExecutor_SingleFetch(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflows":[{"id":"1","name":"Deploy"},{"id":"2","name":"Rollback"}]}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflows { id name } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	require.Empty(t, result.Errors)
	require.Len(t, fetcher.calls, 1)
	workflows := result.Data["workflows"].([]any)
	require.Len(t, workflows, 2)
	assert.Equal(t, "Deploy", workflows[0].(map[string]any)["name"])
}

func TestExecutor_EntityFetchAcrossSubgraphs(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflow":{"id":"1","name":"Deploy"}}`)
	fetcher.handlers["http://executions.local/graphql"] = func(req subgraph.Request) (*subgraph.Response, error) {
		reps := req.Variables["representations"].([]any)
		if len(reps) != 1 {
			return nil, fmt.Errorf("expected 1 representation, got %d", len(reps))
		}
		rep := reps[0].(map[string]any)
		if rep["__typename"] != "Workflow" || rep["id"] != "1" {
			return nil, fmt.Errorf("unexpected representation %v", rep)
		}
		return &subgraph.Response{
			Data: json.RawMessage(`{"_entities":[{"executions":[{"id":"e1"},{"id":"e2"}]}]}`),
		}, nil
	}
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { name executions { id } } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	require.Empty(t, result.Errors)
	workflow := result.Data["workflow"].(map[string]any)
	assert.Equal(t, "Deploy", workflow["name"])
	executions := workflow["executions"].([]any)
	require.Len(t, executions, 2)
	assert.Equal(t, "e1", executions[0].(map[string]any)["id"])

	// The injected key field never reaches the client.
	_, leaked := workflow["id"]
	assert.False(t, leaked)
}

func TestExecutor_BatchesRepresentationsIntoOneCall(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflows":[{"id":"1"},{"id":"2"},{"id":"3"}]}`)
	fetcher.respond("http://executions.local/graphql",
		`{"_entities":[{"executions":[{"id":"e1"}]},{"executions":[]},{"executions":[{"id":"e3"}]}]}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflows { executions { id } } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	require.Empty(t, result.Errors)
	entityCalls := fetcher.callsTo("http://executions.local/graphql")
	require.Len(t, entityCalls, 1)
	reps := entityCalls[0].request.Variables["representations"].([]any)
	require.Len(t, reps, 3)
	// Order matches the parent list, the positional merge contract.
	assert.Equal(t, "1", reps[0].(map[string]any)["id"])
	assert.Equal(t, "3", reps[2].(map[string]any)["id"])

	workflows := result.Data["workflows"].([]any)
	first := workflows[0].(map[string]any)["executions"].([]any)
	assert.Equal(t, "e1", first[0].(map[string]any)["id"])
	third := workflows[2].(map[string]any)["executions"].([]any)
	assert.Equal(t, "e3", third[0].(map[string]any)["id"])
}

func TestExecutor_FetchFailureIsolatedToBranch(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflow":{"id":"1","name":"Deploy"}}`)
	fetcher.fail("http://executions.local/graphql", fmt.Errorf("connection refused"))
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { name executions { id } } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	workflow := result.Data["workflow"].(map[string]any)
	assert.Equal(t, "Deploy", workflow["name"])
	assert.Nil(t, workflow["executions"])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, []any{"workflow", "executions"}, result.Errors[0].Path)
	assert.Equal(t, "executions", result.Errors[0].Extensions["subgraph"])
}

func TestExecutor_SiblingSubgraphUnaffectedByFailure(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.fail("http://workflows.local/graphql", fmt.Errorf("connection refused"))
	fetcher.respond("http://tickets.local/graphql",
		`{"tickets":[{"id":"t1","subject":"Broken build"}]}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { id } tickets { subject } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	tickets := result.Data["tickets"].([]any)
	assert.Equal(t, "Broken build", tickets[0].(map[string]any)["subject"])
	assert.Nil(t, result.Data["workflow"])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, []any{"workflow"}, result.Errors[0].Path)
}

func TestExecutor_DownAtDispatchSkipsFetch(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflow":{"id":"1","name":"Deploy"}}`)
	// Planner saw a healthy subgraph; it went down before dispatch.
	reader := staticHealth{"executions": health.StateDown}
	e := newTestExecutor(t, fetcher, reader)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { name executions { id } } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	assert.Empty(t, fetcher.callsTo("http://executions.local/graphql"))
	workflow := result.Data["workflow"].(map[string]any)
	assert.Equal(t, "Deploy", workflow["name"])
	assert.Nil(t, workflow["executions"])
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "down")
}

func TestExecutor_BlockedFieldFromPlan(t *testing.T) {
	composed := defaultSchema(t)
	reader := staticHealth{"executions": health.StateDown}
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflow":{"id":"1","name":"Deploy"}}`)
	e := newTestExecutor(t, fetcher, reader)

	plan := buildPlan(t, composed, reader, `{ workflow(id: "1") { name executions { id } } }`, nil)
	require.NotEmpty(t, plan.Blocked)

	result := e.Execute(context.Background(), composed, plan, nil)

	workflow := result.Data["workflow"].(map[string]any)
	assert.Equal(t, "Deploy", workflow["name"])
	assert.Nil(t, workflow["executions"])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, []any{"workflow", "executions"}, result.Errors[0].Path)
}

func TestExecutor_RejectedRepresentation(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql",
		`{"workflows":[{"id":"1"},{"id":"2"}]}`)
	fetcher.handlers["http://executions.local/graphql"] = func(subgraph.Request) (*subgraph.Response, error) {
		return &subgraph.Response{
			Data: json.RawMessage(`{"_entities":[{"executions":[{"id":"e1"}]},null]}`),
			Errors: []*subgraph.Error{{
				Message: "workflow not found",
				Path:    []any{"_entities", float64(1)},
			}},
		}, nil
	}
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflows { executions { id } } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	workflows := result.Data["workflows"].([]any)
	first := workflows[0].(map[string]any)
	require.NotNil(t, first["executions"])
	second := workflows[1].(map[string]any)
	assert.Nil(t, second["executions"])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "workflow not found", result.Errors[0].Message)
	// The _entities index is rewritten to the real response path.
	assert.Equal(t, []any{"workflows", 1}, result.Errors[0].Path)
	assert.Equal(t, "executions", result.Errors[0].Extensions["subgraph"])
}

func TestExecutor_NullPropagationToNullableAncestor(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	// name is non-nullable; the null forces workflow itself to null.
	fetcher.respond("http://workflows.local/graphql", `{"workflow":{"id":"1","name":null}}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { name } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	assert.Contains(t, result.Data, "workflow")
	assert.Nil(t, result.Data["workflow"])
}

func TestExecutor_NullPropagationThroughNonNullList(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	// workflows is [Workflow!]!, so a poisoned element nulls the list,
	// and the non-null list nulls the whole data object.
	fetcher.respond("http://workflows.local/graphql", `{"workflows":[{"id":"1","name":null}]}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflows { name } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	assert.Nil(t, result.Data)
}

func TestExecutor_SubgraphErrorsPassThrough(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.handlers["http://workflows.local/graphql"] = func(subgraph.Request) (*subgraph.Response, error) {
		return &subgraph.Response{
			Data:   json.RawMessage(`{"workflow":null}`),
			Errors: []*subgraph.Error{{Message: "not found", Path: []any{"workflow"}}},
		}, nil
	}
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflow(id: "1") { name } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	assert.Nil(t, result.Data["workflow"])
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "not found", result.Errors[0].Message)
	assert.Equal(t, "workflows", result.Errors[0].Extensions["subgraph"])
}

func TestExecutor_MutationRootsRunInOrder(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.respond("http://workflows.local/graphql", `{"startWorkflow":{"id":"1","name":"Deploy"}}`)
	fetcher.respond("http://tickets.local/graphql", `{"closeTicket":{"id":"t1","subject":"Done"}}`)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil,
		`mutation { startWorkflow(name: "Deploy") { id } closeTicket(id: "t1") { subject } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	require.Empty(t, result.Errors)
	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, "http://workflows.local/graphql", fetcher.calls[0].endpoint)
	assert.Equal(t, "http://tickets.local/graphql", fetcher.calls[1].endpoint)
}

func TestExecutor_TimeoutBecomesFieldError(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.fail("http://workflows.local/graphql", context.DeadlineExceeded)
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil, `{ workflows { id } }`, nil)
	result := e.Execute(context.Background(), composed, plan, nil)

	assert.Nil(t, result.Data["workflows"])
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "timed out")
}

func TestExecutor_VariablesForwardedPerNode(t *testing.T) {
	composed := defaultSchema(t)
	fetcher := newFakeFetcher()
	fetcher.handlers["http://workflows.local/graphql"] = func(req subgraph.Request) (*subgraph.Response, error) {
		if req.Variables["id"] != "wf-9" {
			return nil, fmt.Errorf("variable not forwarded: %v", req.Variables)
		}
		return &subgraph.Response{Data: json.RawMessage(`{"workflow":{"id":"wf-9","name":"Deploy"}}`)}, nil
	}
	e := newTestExecutor(t, fetcher, nil)

	plan := buildPlan(t, composed, nil,
		`query Get($id: ID!) { workflow(id: $id) { name } }`,
		map[string]any{"id": "wf-9"})
	result := e.Execute(context.Background(), composed, plan, map[string]any{"id": "wf-9"})

	require.Empty(t, result.Errors)
	workflow := result.Data["workflow"].(map[string]any)
	assert.Equal(t, "Deploy", workflow["name"])
}
