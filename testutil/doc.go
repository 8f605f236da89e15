// Package testutil provides testing utilities for gateway integration
// tests.
//
// MockSubgraph runs an httptest server that speaks the federation
// subgraph contract: it answers _service { sdl } with a configured
// schema, dispatches _entities calls to a representation resolver, and
// routes everything else to per-query handlers. It records every
// request for verification and can be told to fail, hang, or slow down
// to exercise health and partial-failure paths.
package testutil
