package health

import (
	"time"
)

// State is the operational state of a subgraph.
type State int

const (
	// StateHealthy means probes are succeeding within the latency bound.
	StateHealthy State = iota
	// StateDegraded means a run of slow or failed probes was observed;
	// the subgraph still receives fetches.
	StateDegraded
	// StateDown means the subgraph is excluded from new plans and
	// fetches targeting it fail fast.
	StateDown
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// SubgraphHealth is the observed health of one subgraph.
type SubgraphHealth struct {
	Subgraph    string        `json:"subgraph"`
	State       State         `json:"-"`
	Status      string        `json:"status"`
	LastProbe   time.Time     `json:"last_probe"`
	LastLatency time.Duration `json:"last_latency_ns"`
	LastError   string        `json:"last_error,omitempty"`

	// badStreak counts consecutive slow-or-failed probes, failStreak
	// consecutive hard failures only.
	badStreak  int
	failStreak int
}

// Snapshot is an immutable view of all tracked subgraphs, safe to read
// after the monitor has moved on.
type Snapshot struct {
	states map[string]SubgraphHealth
	taken  time.Time
}

// State returns the state of the named subgraph. Unknown subgraphs read
// as Healthy so a freshly registered subgraph is not excluded before its
// first probe.
func (s *Snapshot) State(name string) State {
	if s == nil {
		return StateHealthy
	}
	if h, ok := s.states[name]; ok {
		return h.State
	}
	return StateHealthy
}

// IsDown reports whether the named subgraph is currently Down.
func (s *Snapshot) IsDown(name string) bool {
	return s.State(name) == StateDown
}

// Excluded returns the set of Down subgraphs, the planner's exclusion
// input.
func (s *Snapshot) Excluded() map[string]bool {
	if s == nil {
		return nil
	}
	var excluded map[string]bool
	for name, h := range s.states {
		if h.State == StateDown {
			if excluded == nil {
				excluded = make(map[string]bool)
			}
			excluded[name] = true
		}
	}
	return excluded
}

// All returns a copy of every tracked subgraph's health, for the health
// endpoint.
func (s *Snapshot) All() []SubgraphHealth {
	if s == nil {
		return nil
	}
	all := make([]SubgraphHealth, 0, len(s.states))
	for _, h := range s.states {
		all = append(all, h)
	}
	return all
}

// Taken returns when the snapshot was published.
func (s *Snapshot) Taken() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.taken
}

// Reader is the read-side view of subgraph health consumed by the planner
// and executor.
type Reader interface {
	State(name string) State
	IsDown(name string) bool
}
