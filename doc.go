// Package fedgateway is a GraphQL federation gateway.
//
// The gateway composes the schemas of multiple GraphQL subgraphs into a
// single supergraph and serves client queries against it, fetching each
// field from the subgraph that owns it and stitching the results back
// together.
//
// # Architecture
//
// The request path runs through four components:
//
//	schema   - parses subgraph SDL, applies the federation directives
//	           (@key, @extends, @external, @provides, @requires), and
//	           composes them into an immutable, atomically-swapped
//	           schema snapshot with field-level ownership
//	planner  - turns a client query plus the current snapshot into a
//	           DAG of subgraph fetches, grouping contiguous fields of
//	           the same subgraph into a single fetch and caching plans
//	           until the schema generation changes
//	executor - runs the fetch DAG level by level, batching entity
//	           lookups into _entities calls, merging results
//	           positionally, and applying GraphQL null propagation
//	health   - probes every subgraph endpoint, demoting slow or failing
//	           subgraphs through Healthy, Degraded, and Down; Down
//	           subgraphs are planned around rather than fetched
//
// Supporting packages: subgraph (HTTP client speaking the federation
// contract), gateway (HTTP server, /graphql handler, schema reload),
// config (file + environment configuration), metric (Prometheus
// recording), errors (classified error wrapping), and pkg/cache and
// pkg/retry (generic TTL cache and backoff helpers).
//
// # Entry Point
//
// cmd/fedgateway wires everything together: it loads configuration,
// bootstraps subgraph schemas (inline, from file, or fetched via the
// _service contract), starts the health monitor and HTTP server, and
// reloads schemas on SIGHUP or a NATS message.
package fedgateway
