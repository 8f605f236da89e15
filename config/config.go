package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/executor"
	"github.com/c360/fedgateway/gateway"
	"github.com/c360/fedgateway/health"
	"github.com/c360/fedgateway/planner"
	"github.com/c360/fedgateway/subgraph"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "FEDGATEWAY_"

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `json:"server" yaml:"server"`
	Log       LogConfig        `json:"log" yaml:"log"`
	Subgraphs []SubgraphConfig `json:"subgraphs" yaml:"subgraphs"`
	Planner   PlannerConfig    `json:"planner" yaml:"planner"`
	Executor  ExecutorConfig   `json:"executor" yaml:"executor"`
	Health    HealthConfig     `json:"health" yaml:"health"`
	Client    ClientConfig     `json:"client" yaml:"client"`
	NATS      NATSConfig       `json:"nats" yaml:"nats"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Address is the bind address, host:port
	Address string `json:"address" yaml:"address"`
	// RequestTimeout is the end-to-end deadline per client request
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// Playground serves the GraphQL playground UI at /
	Playground bool `json:"playground" yaml:"playground"`
	// AllowedOrigins enables CORS for the listed origins ("*" for all)
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	// Level is debug, info, warn, or error
	Level string `json:"level" yaml:"level"`
	// Format is json or text
	Format string `json:"format" yaml:"format"`
}

// SubgraphConfig declares one federated subgraph.
type SubgraphConfig struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	// SDL inlines the subgraph schema; when empty it is fetched from
	// the subgraph's _service endpoint at startup and on reload.
	SDL string `json:"sdl,omitempty" yaml:"sdl,omitempty"`
	// SDLFile reads the schema from a file instead.
	SDLFile string `json:"sdl_file,omitempty" yaml:"sdl_file,omitempty"`
}

// PlannerConfig mirrors planner.Config with file-friendly durations.
type PlannerConfig struct {
	CacheSize int      `json:"cache_size" yaml:"cache_size"`
	CacheTTL  Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// ExecutorConfig mirrors executor.Config.
type ExecutorConfig struct {
	FetchTimeout         Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	MaxConcurrentFetches int      `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`
}

// HealthConfig mirrors health.Config.
type HealthConfig struct {
	Interval      Duration `json:"interval" yaml:"interval"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	SlowThreshold Duration `json:"slow_threshold" yaml:"slow_threshold"`
	DegradedAfter int      `json:"degraded_after" yaml:"degraded_after"`
	DownAfter     int      `json:"down_after" yaml:"down_after"`
}

// ClientConfig mirrors subgraph.ClientConfig.
type ClientConfig struct {
	Timeout      Duration `json:"timeout" yaml:"timeout"`
	RetryMax     int      `json:"retry_max" yaml:"retry_max"`
	RetryWaitMin Duration `json:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax Duration `json:"retry_wait_max" yaml:"retry_wait_max"`
}

// NATSConfig enables schema reloads triggered over NATS. Reloads are
// disabled when URL is empty.
type NATSConfig struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// ReloadSubject is the subject whose messages trigger an SDL
	// refetch and recomposition
	ReloadSubject string `json:"reload_subject,omitempty" yaml:"reload_subject,omitempty"`
}

// Load reads, overrides, and validates a configuration file. The format
// is chosen by extension: .json is JSON, everything else is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}

	cfg := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file values
// without editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envPrefix + "ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(envPrefix + "NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv(envPrefix + "NATS_RELOAD_SUBJECT"); v != "" {
		c.NATS.ReloadSubject = v
	}
	if v := os.Getenv(envPrefix + "PLAYGROUND"); v != "" {
		c.Server.Playground = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: log level %q", errors.ErrInvalidConfig, c.Log.Level),
			"Config", "Validate", "log level")
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: log format %q", errors.ErrInvalidConfig, c.Log.Format),
			"Config", "Validate", "log format")
	}

	if len(c.Subgraphs) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: at least one subgraph required", errors.ErrMissingConfig),
			"Config", "Validate", "subgraphs")
	}
	seen := make(map[string]bool, len(c.Subgraphs))
	for i, sg := range c.Subgraphs {
		if sg.Name == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: subgraph %d has no name", errors.ErrMissingConfig, i),
				"Config", "Validate", "subgraph name")
		}
		if seen[sg.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: duplicate subgraph %q", errors.ErrInvalidConfig, sg.Name),
				"Config", "Validate", "subgraph name")
		}
		seen[sg.Name] = true
		u, err := url.Parse(sg.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: subgraph %q has invalid url %q", errors.ErrInvalidConfig, sg.Name, sg.URL),
				"Config", "Validate", "subgraph url")
		}
		if sg.SDL != "" && sg.SDLFile != "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: subgraph %q sets both sdl and sdl_file", errors.ErrInvalidConfig, sg.Name),
				"Config", "Validate", "subgraph sdl")
		}
	}

	if c.NATS.URL != "" && c.NATS.ReloadSubject == "" {
		c.NATS.ReloadSubject = "fedgateway.schema.reload"
	}

	// Component configs validate themselves, applying their defaults.
	pc := c.PlannerConfig()
	if err := pc.Validate(); err != nil {
		return err
	}
	ec := c.ExecutorConfig()
	if err := ec.Validate(); err != nil {
		return err
	}
	hc := c.HealthConfig()
	if err := hc.Validate(); err != nil {
		return err
	}
	return nil
}

// GatewayConfig converts to the HTTP server's runtime config.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Address:         c.Server.Address,
		RequestTimeout:  c.Server.RequestTimeout.Std(),
		ShutdownTimeout: c.Server.ShutdownTimeout.Std(),
		Playground:      c.Server.Playground,
		AllowedOrigins:  c.Server.AllowedOrigins,
	}
}

// PlannerConfig converts to the planner's runtime config.
func (c *Config) PlannerConfig() planner.Config {
	return planner.Config{
		CacheSize: c.Planner.CacheSize,
		CacheTTL:  c.Planner.CacheTTL.Std(),
	}
}

// ExecutorConfig converts to the executor's runtime config.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		FetchTimeout:         c.Executor.FetchTimeout.Std(),
		MaxConcurrentFetches: c.Executor.MaxConcurrentFetches,
	}
}

// HealthConfig converts to the health monitor's runtime config.
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		Interval:      c.Health.Interval.Std(),
		Timeout:       c.Health.Timeout.Std(),
		SlowThreshold: c.Health.SlowThreshold.Std(),
		DegradedAfter: c.Health.DegradedAfter,
		DownAfter:     c.Health.DownAfter,
	}
}

// ClientConfig converts to the subgraph client's runtime config.
func (c *Config) ClientConfig() subgraph.ClientConfig {
	cfg := subgraph.DefaultClientConfig()
	if c.Client.Timeout > 0 {
		cfg.Timeout = c.Client.Timeout.Std()
	}
	if c.Client.RetryMax > 0 {
		cfg.RetryMax = c.Client.RetryMax
	}
	if c.Client.RetryWaitMin > 0 {
		cfg.RetryWaitMin = c.Client.RetryWaitMin.Std()
	}
	if c.Client.RetryWaitMax > 0 {
		cfg.RetryWaitMax = c.Client.RetryWaitMax.Std()
	}
	return cfg
}

// SDLSources converts the subgraph declarations into schema reload
// sources, reading any sdl_file entries up front.
func (c *Config) SDLSources() ([]gateway.SDLSource, error) {
	sources := make([]gateway.SDLSource, 0, len(c.Subgraphs))
	for i := range c.Subgraphs {
		sg := &c.Subgraphs[i]
		sdl, err := sg.ResolveSDL()
		if err != nil {
			return nil, err
		}
		sources = append(sources, gateway.SDLSource{
			Name:     sg.Name,
			Endpoint: sg.URL,
			Static:   sdl,
		})
	}
	return sources, nil
}

// ResolveSDL returns the subgraph's configured SDL, reading SDLFile when
// set. Empty means the SDL must be fetched from the subgraph itself.
func (s *SubgraphConfig) ResolveSDL() (string, error) {
	if s.SDL != "" {
		return s.SDL, nil
	}
	if s.SDLFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.SDLFile)
	if err != nil {
		return "", errors.WrapInvalid(err, "SubgraphConfig", "ResolveSDL", "read sdl file")
	}
	return string(data), nil
}
