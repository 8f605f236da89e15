// Package errors provides standardized error handling for the federation
// gateway. It defines the gateway error taxonomy (schema, composition,
// planning, fetch, and entity-resolution failures), error classification
// for retry decisions, and helpers for consistent error wrapping across
// components.
//
// Classification drives recovery policy:
//
//   - Transient errors (network, timeout) degrade to field-level errors
//     scoped to one subgraph branch and may be retried.
//   - Invalid errors (malformed SDL, conflicting composition, bad queries)
//     are rejected outright; the last good state keeps serving.
//   - Fatal errors stop the affected component.
//
// All wrapping follows the pattern "component.method: action failed: %w"
// so log lines and error chains read uniformly across the gateway.
package errors
