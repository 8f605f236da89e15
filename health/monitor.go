package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/metric"
)

// Prober issues a liveness probe against a subgraph endpoint and returns
// the observed latency. Implemented by the subgraph client.
type Prober interface {
	Probe(ctx context.Context, endpoint string) (time.Duration, error)
}

// Config holds health monitor settings.
type Config struct {
	// Interval is the probe cadence
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Timeout bounds a single probe
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// SlowThreshold is the latency above which a successful probe
	// still counts against the subgraph
	SlowThreshold time.Duration `json:"slow_threshold" yaml:"slow_threshold"`
	// DegradedAfter is the run of slow/failed probes moving Healthy to Degraded
	DegradedAfter int `json:"degraded_after" yaml:"degraded_after"`
	// DownAfter is the further run of consecutive failures moving Degraded to Down
	DownAfter int `json:"down_after" yaml:"down_after"`
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Interval < 0 || c.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "negative duration")
	}
	if c.Interval == 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Timeout > c.Interval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout exceeds interval")
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 500 * time.Millisecond
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 3
	}
	if c.DownAfter <= 0 {
		c.DownAfter = 3
	}
	return nil
}

// target is one tracked subgraph endpoint.
type target struct {
	name     string
	endpoint string
}

// Monitor probes tracked subgraphs and publishes health snapshots.
type Monitor struct {
	config  Config
	prober  Prober
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	targets map[string]target
	states  map[string]SubgraphHealth
	started bool

	snapshot atomic.Pointer[Snapshot]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a health monitor. metrics may be nil.
func NewMonitor(config Config, prober Prober, logger *slog.Logger, metrics *metric.Metrics) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if prober == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Monitor", "NewMonitor", "prober required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		config:  config,
		prober:  prober,
		logger:  logger.With("component", "health-monitor"),
		metrics: metrics,
		targets: make(map[string]target),
		states:  make(map[string]SubgraphHealth),
	}
	m.publishLocked()
	return m, nil
}

// Track adds a subgraph to the probe set. New subgraphs start Healthy.
func (m *Monitor) Track(name, endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.targets[name] = target{name: name, endpoint: endpoint}
	if _, ok := m.states[name]; !ok {
		m.states[name] = SubgraphHealth{
			Subgraph: name,
			State:    StateHealthy,
			Status:   StateHealthy.String(),
		}
	}
	m.publishLocked()
}

// Forget removes a subgraph from the probe set.
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.targets, name)
	delete(m.states, name)
	m.publishLocked()
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
	m.logger.Info("health monitor started",
		"interval", m.config.Interval,
		"timeout", m.config.Timeout)
	return nil
}

// Stop halts the probe loop, waiting up to timeout for the in-flight
// round to finish.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return errors.ErrNotStarted
	}
	m.started = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	select {
	case <-done:
		m.logger.Info("health monitor stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("probe loop did not stop within %v", timeout),
			"Monitor", "Stop", "shutdown")
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.ProbeNow(ctx)
		}
	}
}

// ProbeNow runs one probe round synchronously across all tracked
// subgraphs. Called by the loop each tick and directly at startup so the
// first plans see real state.
func (m *Monitor) ProbeNow(ctx context.Context) {
	m.mu.Lock()
	targets := make([]target, 0, len(m.targets))
	for _, tg := range m.targets {
		targets = append(targets, tg)
	}
	m.mu.Unlock()

	type outcome struct {
		target  target
		latency time.Duration
		err     error
	}

	results := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, tg := range targets {
		wg.Add(1)
		go func(i int, tg target) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
			defer cancel()
			latency, err := m.prober.Probe(probeCtx, tg.endpoint)
			results[i] = outcome{target: tg, latency: latency, err: err}
		}(i, tg)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		m.applyLocked(r.target.name, r.latency, r.err)
	}
	m.publishLocked()
}

// applyLocked advances one subgraph's state machine from a probe outcome.
func (m *Monitor) applyLocked(name string, latency time.Duration, err error) {
	h, ok := m.states[name]
	if !ok {
		// Forgotten mid-round.
		return
	}

	h.LastProbe = time.Now()
	h.LastLatency = latency
	prev := h.State

	switch {
	case err != nil:
		h.LastError = err.Error()
		h.badStreak++
		h.failStreak++
	case latency > m.config.SlowThreshold:
		h.LastError = ""
		h.badStreak++
		h.failStreak = 0
	default:
		h.LastError = ""
		h.badStreak = 0
		h.failStreak = 0
	}

	switch {
	case err == nil && latency <= m.config.SlowThreshold:
		// Any clean probe restores full trust, including from Down.
		h.State = StateHealthy
	case h.State == StateHealthy && h.badStreak >= m.config.DegradedAfter:
		h.State = StateDegraded
		// Down requires a further run of failures beyond this point.
		h.failStreak = 0
	case h.State == StateDegraded && h.failStreak >= m.config.DownAfter:
		h.State = StateDown
	}
	h.Status = h.State.String()
	m.states[name] = h

	if m.metrics != nil {
		m.metrics.RecordProbe(name, latency)
		m.metrics.RecordSubgraphState(name, int(h.State))
	}
	if h.State != prev {
		m.logger.Warn("subgraph state changed",
			"subgraph", name,
			"from", prev.String(),
			"to", h.State.String(),
			"latency", latency,
			"error", h.LastError)
	}
}

// publishLocked swaps in a fresh immutable snapshot.
func (m *Monitor) publishLocked() {
	states := make(map[string]SubgraphHealth, len(m.states))
	for name, h := range m.states {
		states[name] = h
	}
	m.snapshot.Store(&Snapshot{states: states, taken: time.Now()})
}

// Snapshot returns the latest published snapshot.
func (m *Monitor) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// State implements Reader against the latest snapshot.
func (m *Monitor) State(name string) State {
	return m.Snapshot().State(name)
}

// IsDown implements Reader against the latest snapshot.
func (m *Monitor) IsDown(name string) bool {
	return m.Snapshot().IsDown(name)
}
