package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fedgateway/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const yamlConfig = `
server:
  address: ":9090"
  request_timeout: 15s
  playground: true
log:
  level: debug
  format: text
subgraphs:
  - name: workflows
    url: http://workflows.local/graphql
  - name: executions
    url: http://executions.local/graphql
planner:
  cache_size: 500
  cache_ttl: 2m
health:
  interval: 5s
  timeout: 1s
  degraded_after: 2
  down_after: 4
nats:
  url: nats://localhost:4222
`

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "gateway.yaml", yamlConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout.Std())
	assert.True(t, cfg.Server.Playground)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Subgraphs, 2)
	assert.Equal(t, "workflows", cfg.Subgraphs[0].Name)

	pc := cfg.PlannerConfig()
	assert.Equal(t, 500, pc.CacheSize)
	assert.Equal(t, 2*time.Minute, pc.CacheTTL)

	hc := cfg.HealthConfig()
	assert.Equal(t, 5*time.Second, hc.Interval)
	assert.Equal(t, 2, hc.DegradedAfter)
	assert.Equal(t, 4, hc.DownAfter)

	// NATS reload subject defaulted because a URL was set.
	assert.Equal(t, "fedgateway.schema.reload", cfg.NATS.ReloadSubject)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "gateway.json", `{
		"subgraphs": [
			{"name": "workflows", "url": "http://workflows.local/graphql"}
		],
		"executor": {"fetch_timeout": "3s", "max_concurrent_fetches": 4}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	ec := cfg.ExecutorConfig()
	assert.Equal(t, 3*time.Second, ec.FetchTimeout)
	assert.Equal(t, 4, ec.MaxConcurrentFetches)

	// Defaults applied by validation.
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FEDGATEWAY_ADDRESS", ":7000")
	t.Setenv("FEDGATEWAY_LOG_LEVEL", "warn")
	t.Setenv("FEDGATEWAY_NATS_URL", "nats://override:4222")

	path := writeFile(t, "gateway.yaml", `
subgraphs:
  - name: workflows
    url: http://workflows.local/graphql
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		return &Config{Subgraphs: []SubgraphConfig{
			{Name: "workflows", URL: "http://workflows.local/graphql"},
		}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no subgraphs", mutate: func(c *Config) { c.Subgraphs = nil }},
		{name: "unnamed subgraph", mutate: func(c *Config) { c.Subgraphs[0].Name = "" }},
		{name: "bad url", mutate: func(c *Config) { c.Subgraphs[0].URL = "not a url" }},
		{name: "duplicate name", mutate: func(c *Config) {
			c.Subgraphs = append(c.Subgraphs, c.Subgraphs[0])
		}},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "sdl and sdl_file", mutate: func(c *Config) {
			c.Subgraphs[0].SDL = "type Query { a: Int }"
			c.Subgraphs[0].SDLFile = "/tmp/x.graphql"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err) || errors.IsFatal(err))
		})
	}
}

func TestResolveSDL(t *testing.T) {
	inline := SubgraphConfig{SDL: "type Query { a: Int }"}
	sdl, err := inline.ResolveSDL()
	require.NoError(t, err)
	assert.Equal(t, "type Query { a: Int }", sdl)

	path := writeFile(t, "workflows.graphql", "type Query { b: Int }")
	fromFile := SubgraphConfig{SDLFile: path}
	sdl, err = fromFile.ResolveSDL()
	require.NoError(t, err)
	assert.Equal(t, "type Query { b: Int }", sdl)

	empty := SubgraphConfig{}
	sdl, err = empty.ResolveSDL()
	require.NoError(t, err)
	assert.Empty(t, sdl)

	missing := SubgraphConfig{SDLFile: filepath.Join(t.TempDir(), "absent.graphql")}
	_, err = missing.ResolveSDL()
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
