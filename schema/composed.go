package schema

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// FieldCoordinate renders a "Type.field" coordinate, the key used by the
// ownership, shareable, requires, and provides maps.
func FieldCoordinate(typeName, field string) string {
	return typeName + "." + field
}

// Composed is an immutable snapshot of the merged federated schema.
// Snapshots are built by the registry, swapped in atomically, and never
// mutated afterwards; every lookup is safe for concurrent use.
type Composed struct {
	// Generation is the monotonically increasing snapshot counter. Plan
	// cache entries stamped with an older generation are discarded.
	Generation uint64

	// Types maps type name to its merged definition.
	Types map[string]*ast.Definition

	// Ownership maps "Type.field" to the owning subgraph.
	Ownership map[string]string

	// Shareable marks coordinates that more than one subgraph may
	// resolve.
	Shareable map[string]bool

	// EntityKeys holds the ordered key fields per entity type.
	EntityKeys map[string][]string

	// Requires maps "Type.field" to the extra parent fields the owning
	// subgraph needs included in entity representations.
	Requires map[string][]string

	// Provides maps "Type.field" to child fields the owning subgraph
	// can resolve locally on the returned object.
	Provides map[string][]string

	// Endpoints maps subgraph name to its GraphQL endpoint URL.
	Endpoints map[string]string

	// Subgraphs lists all contributing subgraph names, sorted.
	Subgraphs []string

	// SDL is the rendered composed schema, with federation directives
	// stripped.
	SDL string
}

// Owner returns the subgraph owning the given field.
func (c *Composed) Owner(typeName, field string) (string, bool) {
	owner, ok := c.Ownership[FieldCoordinate(typeName, field)]
	return owner, ok
}

// FieldDef returns the merged definition of the given field, or nil when
// the type or field is absent from the composed schema.
func (c *Composed) FieldDef(typeName, field string) *ast.FieldDefinition {
	def, ok := c.Types[typeName]
	if !ok {
		return nil
	}
	return def.Fields.ForName(field)
}

// KeyFields returns the ordered key fields for an entity type, nil for
// non-entity types.
func (c *Composed) KeyFields(typeName string) []string {
	return c.EntityKeys[typeName]
}

// IsEntity reports whether the type has a declared key.
func (c *Composed) IsEntity(typeName string) bool {
	return len(c.EntityKeys[typeName]) > 0
}

// Endpoint returns the URL of the named subgraph.
func (c *Composed) Endpoint(subgraph string) (string, bool) {
	url, ok := c.Endpoints[subgraph]
	return url, ok
}
