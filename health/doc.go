// Package health monitors subgraph liveness.
//
// The monitor probes every tracked subgraph on a fixed interval with a
// bounded timeout and runs a per-subgraph state machine: Healthy moves to
// Degraded after a run of slow or failed probes, Degraded moves to Down
// after a further run of consecutive failures, and any successful probe
// restores Down to Healthy immediately.
//
// Readers (the planner's exclusion set, the executor's dispatch check)
// take an immutable snapshot through an atomic pointer; only the probe
// loop writes, so state updates are serialized and never torn.
package health
