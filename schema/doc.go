// Package schema implements the federation schema registry.
//
// Each subgraph contributes an SDL document annotated with federation
// directives (@key, @extends, @external, @provides, @requires, @shareable,
// @override). The registry parses and validates each contribution at
// registration time, then composes all registered subgraphs into a single
// Composed snapshot: a merged type map, a field-ownership map, and the
// ordered key-field set for every entity type.
//
// Snapshots are immutable and swapped in atomically with a monotonically
// increasing generation counter. Readers acquire a snapshot once per
// request and never observe a partially composed schema; a failed
// composition leaves the last-known-good snapshot serving.
package schema
