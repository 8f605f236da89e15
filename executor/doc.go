// Package executor runs fetch plans against subgraphs.
//
// Nodes are executed level by level: every node whose dependencies are
// satisfied runs concurrently, a join barrier merges results before the
// next level starts. Entity nodes batch all representations collected at
// their parent path into a single _entities call and merge the returned
// objects back positionally.
//
// Failures stay scoped to their branch: a fetch error, a rejected
// representation, or a Down subgraph at dispatch time becomes a field
// error plus a null at that path, leaving sibling branches intact. The
// final response is projected through the client's own selection set, so
// injected key fields never leak and GraphQL null propagation is applied
// per field nullability.
package executor
