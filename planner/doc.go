// Package planner turns client queries into fetch plans.
//
// A plan is a DAG of FetchNodes. Root nodes carry ordinary sub-queries;
// child nodes carry batched _entities sub-queries and depend on the key
// fields returned by their parent. Contiguous selections owned by the
// same subgraph are greedily grouped into one node to minimize round
// trips.
//
// Fields owned by a Down subgraph do not abort planning: they are
// recorded as blocked and surface as field errors at execution time.
//
// Plans are cached by normalized query text plus variable shape and
// stamped with the composed schema generation; any recomposition
// invalidates the whole cache.
package planner
