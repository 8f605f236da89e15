// Package gateway is the HTTP front door of the federation gateway.
//
// It serves the /graphql endpoint, turning each client request into a
// plan (planner), a set of subgraph fetches (executor), and a standard
// {data, errors} GraphQL response. The package also exposes /health and
// /metrics, an optional playground UI, and the schema reload path
// (NATS-triggered and on demand).
package gateway
