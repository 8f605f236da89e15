package planner

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Plan is an immutable fetch DAG for one client operation.
type Plan struct {
	// Signature is the cache key the plan was stored under.
	Signature string
	// Generation is the composed-schema generation the plan was built
	// against. A newer generation invalidates the plan.
	Generation uint64
	// Operation is the operation kind (query or mutation).
	Operation ast.Operation
	// Nodes lists every fetch node, parents before children.
	Nodes []*FetchNode
	// Blocked lists selections whose owner was Down at planning time;
	// they become field errors at execution without any fetch.
	Blocked []BlockedField
	// RootTypenames lists response keys of root __typename selections,
	// answered by the gateway without any fetch.
	RootTypenames []string
	// ClientOperation is the parsed client operation; the executor
	// projects merged data through it so injected key fields never
	// leak into the response.
	ClientOperation *ast.OperationDefinition
	// Fragments are the client document's fragment definitions, needed
	// when projecting the response.
	Fragments map[string]*ast.FragmentDefinition

	// excluded is the Down set the plan was built under, compared on
	// cache hits so a recovered subgraph gets a fresh plan.
	excluded map[string]bool
}

// FetchNode is a single subgraph fetch within a plan.
type FetchNode struct {
	// Subgraph is the target subgraph name.
	Subgraph string
	// Query is the rendered sub-query document. Root nodes carry a
	// translated client query; entity nodes carry a
	// _entities(representations: $representations) query.
	Query string
	// Variables lists the client variable names the sub-query uses.
	Variables []string

	// Entity fetch inputs, zero-valued on root nodes.

	// ParentType is the entity typename the representations identify.
	ParentType string
	// KeyFields are the entity's ordered key fields.
	KeyFields []string
	// Requires are extra parent fields included in each representation.
	Requires []string
	// ParentPath is the response path (aliases, lists implicit) of the
	// field whose objects this node extends.
	ParentPath []string

	// DependsOn are the nodes whose output must be merged before this
	// node can build its representations.
	DependsOn []*FetchNode

	selection ast.SelectionSet
}

// IsEntityFetch reports whether the node resolves entity representations
// rather than a root query.
func (n *FetchNode) IsEntityFetch() bool {
	return n.ParentType != ""
}

// Selection exposes the node's pruned selection set; the executor uses it
// to merge entity results and apply null propagation.
func (n *FetchNode) Selection() ast.SelectionSet {
	return n.selection
}

// BlockedField is a selection that could not be planned because its
// owning subgraph was Down.
type BlockedField struct {
	// TypeName and Field give the schema coordinate.
	TypeName string
	Field    string
	// Path is the response path of the blocked field.
	Path []string
	// Subgraph is the Down owner.
	Subgraph string
}

// Levels partitions the nodes into dependency levels: level 0 has no
// dependencies, level n+1 depends only on nodes at levels <= n. Nodes in
// one level are independent and run concurrently.
func (p *Plan) Levels() [][]*FetchNode {
	depth := make(map[*FetchNode]int, len(p.Nodes))
	var levels [][]*FetchNode

	// Nodes is already topologically ordered (parents are appended
	// before the children that depend on them).
	for _, n := range p.Nodes {
		d := 0
		for _, dep := range n.DependsOn {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[n] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n)
	}
	return levels
}

// sameExclusions reports whether the plan was built under the given Down
// set.
func (p *Plan) sameExclusions(excluded map[string]bool) bool {
	if len(p.excluded) != len(excluded) {
		return false
	}
	for name := range p.excluded {
		if !excluded[name] {
			return false
		}
	}
	return true
}

// pathKey joins a response path for map keys and error messages.
func pathKey(path []string) string {
	return strings.Join(path, ".")
}
