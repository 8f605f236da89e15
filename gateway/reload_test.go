package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/schema"
	"github.com/c360/fedgateway/subgraph"
	"github.com/c360/fedgateway/testutil"
)

const reloadedWorkflowSDL = `
type Query {
  workflow(id: ID!): Workflow
}

type Workflow @key(fields: "id") {
  id: ID!
  name: String!
  owner: String
}
`

func newReloader(t *testing.T, sources []SDLSource) (*Reloader, *schema.Registry) {
	t.Helper()
	registry := schema.NewRegistry(nil, nil)
	client := subgraph.NewClient(subgraph.ClientConfig{Timeout: 5 * time.Second}, nil)
	r, err := NewReloader(registry, client, sources, nil)
	require.NoError(t, err)
	return r, registry
}

func TestReloader_Bootstrap(t *testing.T) {
	workflows := testutil.NewMockSubgraph("workflows", workflowSDL)
	t.Cleanup(workflows.Close)

	r, registry := newReloader(t, []SDLSource{
		{Name: "workflows", Endpoint: workflows.URL()},
	})

	require.NoError(t, r.Bootstrap(context.Background()))

	composed, err := registry.Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), composed.Generation)
	owner, ok := composed.Owner("Workflow", "name")
	require.True(t, ok)
	assert.Equal(t, "workflows", owner)
}

func TestReloader_BootstrapStaticSDL(t *testing.T) {
	// No server involved: the SDL comes straight from configuration.
	r, registry := newReloader(t, []SDLSource{
		{Name: "workflows", Endpoint: "http://workflows.local/graphql", Static: workflowSDL},
	})

	require.NoError(t, r.Bootstrap(context.Background()))
	assert.Equal(t, uint64(1), registry.Generation())
}

func TestReloader_ReloadPicksUpNewSchema(t *testing.T) {
	workflows := testutil.NewMockSubgraph("workflows", workflowSDL)
	t.Cleanup(workflows.Close)

	r, registry := newReloader(t, []SDLSource{
		{Name: "workflows", Endpoint: workflows.URL()},
	})
	require.NoError(t, r.Bootstrap(context.Background()))

	// The subgraph publishes a new field, then a reload is triggered.
	workflows.SDL = reloadedWorkflowSDL
	require.NoError(t, r.Reload(context.Background()))

	composed, err := registry.Current()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), composed.Generation)
	assert.NotNil(t, composed.FieldDef("Workflow", "owner"))
}

func TestReloader_FetchFailureKeepsPreviousSchema(t *testing.T) {
	workflows := testutil.NewMockSubgraph("workflows", workflowSDL)
	t.Cleanup(workflows.Close)

	r, registry := newReloader(t, []SDLSource{
		{Name: "workflows", Endpoint: workflows.URL()},
	})
	require.NoError(t, r.Bootstrap(context.Background()))

	workflows.FailNext(10, 500)
	err := r.Reload(context.Background())
	require.Error(t, err)

	// Recompose still ran over the previously registered SDL.
	composed, cerr := registry.Current()
	require.NoError(t, cerr)
	owner, ok := composed.Owner("Workflow", "name")
	require.True(t, ok)
	assert.Equal(t, "workflows", owner)
}

func TestReloader_MalformedSDLKeepsPreviousSchema(t *testing.T) {
	workflows := testutil.NewMockSubgraph("workflows", workflowSDL)
	t.Cleanup(workflows.Close)

	r, registry := newReloader(t, []SDLSource{
		{Name: "workflows", Endpoint: workflows.URL()},
	})
	require.NoError(t, r.Bootstrap(context.Background()))
	gen := registry.Generation()

	workflows.SDL = "type Workflow {{{"
	err := r.Reload(context.Background())
	require.Error(t, err)

	// The bad SDL was rejected at registration; the old schema recomposed.
	composed, cerr := registry.Current()
	require.NoError(t, cerr)
	owner, ok := composed.Owner("Workflow", "name")
	require.True(t, ok)
	assert.Equal(t, "workflows", owner)
	assert.Equal(t, gen+1, composed.Generation)
}

func TestReloader_RequiresRegistry(t *testing.T) {
	_, err := NewReloader(nil, nil, nil, nil)
	assert.Error(t, err)
}
