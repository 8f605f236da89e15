// Package subgraph provides the HTTP client used to talk to federated
// subgraph services.
//
// Every subgraph exposes a single GraphQL endpoint accepting the standard
// {query, variables, operationName} request shape. On top of plain query
// dispatch the client implements the two federation contract calls:
// FetchSDL retrieves the subgraph's schema via _service { sdl }, and Probe
// issues a minimal { __typename } query for health checking.
//
// Query dispatch retries idempotent requests with backoff (GraphQL queries
// carry no side effects by contract); probes are deliberately single-shot so
// the health monitor sees real failure rates.
package subgraph
