package planner

import (
	"fmt"
	"slices"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/schema"
)

// maxDepth bounds field nesting; fragment cycles are rejected separately
// during flattening (plans are built from unvalidated input).
const maxDepth = 50

// builder accumulates fetch nodes while walking one operation.
type builder struct {
	composed  *schema.Composed
	fragments map[string]*ast.FragmentDefinition
	excluded  map[string]bool

	nodes    []*FetchNode
	blocked  []BlockedField
	children map[string]*FetchNode
}

func newBuilder(composed *schema.Composed, doc *ast.QueryDocument, excluded map[string]bool) *builder {
	fragments := make(map[string]*ast.FragmentDefinition, len(doc.Fragments))
	for _, f := range doc.Fragments {
		fragments[f.Name] = f
	}
	return &builder{
		composed:  composed,
		fragments: fragments,
		excluded:  excluded,
		children:  make(map[string]*FetchNode),
	}
}

// build walks the operation's root selections, greedily grouping
// contiguous same-subgraph fields into shared fetch nodes.
func (b *builder) build(op *ast.OperationDefinition) (*Plan, error) {
	var rootType string
	switch op.Operation {
	case ast.Query:
		rootType = "Query"
	case ast.Mutation:
		rootType = "Mutation"
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s operations are not supported", errors.ErrInvalidQuery, op.Operation),
			"Planner", "build", "operation kind")
	}

	fields, err := b.flatten(rootType, op.SelectionSet)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Operation: op.Operation, excluded: b.excluded}
	var current *FetchNode
	for _, f := range fields {
		if f.Name == "__typename" {
			// Answered by the gateway itself, never forwarded.
			plan.RootTypenames = append(plan.RootTypenames, responseKey(f))
			continue
		}
		owner, ok := b.composed.Owner(rootType, f.Name)
		if !ok {
			return nil, unknownField(rootType, f.Name)
		}
		path := []string{responseKey(f)}
		if b.excluded[owner] {
			b.blocked = append(b.blocked, BlockedField{
				TypeName: rootType, Field: f.Name, Path: path, Subgraph: owner,
			})
			continue
		}
		if current == nil || current.Subgraph != owner {
			current = &FetchNode{Subgraph: owner}
			b.nodes = append(b.nodes, current)
		}
		cf, err := b.field(current, rootType, f, path)
		if err != nil {
			return nil, err
		}
		current.selection = append(current.selection, cf)
	}

	plan.Nodes = b.nodes
	plan.Blocked = b.blocked
	return plan, nil
}

// field prunes one client field to what the node's subgraph can resolve,
// spawning entity child nodes for foreign selections underneath it.
func (b *builder) field(node *FetchNode, parentType string, f *ast.Field, path []string) (*ast.Field, error) {
	if len(path) > maxDepth {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: selection deeper than %d levels", errors.ErrInvalidQuery, maxDepth),
			"Planner", "field", "depth check")
	}

	cf := &ast.Field{Alias: f.Alias, Name: f.Name, Arguments: f.Arguments}
	if len(f.SelectionSet) == 0 || f.Name == "__typename" {
		return cf, nil
	}

	def := b.composed.FieldDef(parentType, f.Name)
	if def == nil {
		return nil, unknownField(parentType, f.Name)
	}
	provided := b.composed.Provides[schema.FieldCoordinate(parentType, f.Name)]

	sels, err := b.selectionSet(node, def.Type.Name(), f.SelectionSet, path, provided)
	if err != nil {
		return nil, err
	}
	cf.SelectionSet = sels
	return cf, nil
}

// selectionSet splits a selection between the current node and entity
// child nodes. provided lists fields the node can resolve locally via
// @provides on the enclosing field.
func (b *builder) selectionSet(node *FetchNode, typeName string, sels ast.SelectionSet, path []string, provided []string) (ast.SelectionSet, error) {
	fields, err := b.flatten(typeName, sels)
	if err != nil {
		return nil, err
	}

	var kept ast.SelectionSet
	extra := make(map[string]bool)
	needKeys := false

	for _, f := range fields {
		if f.Name == "__typename" {
			kept = append(kept, &ast.Field{Alias: f.Alias, Name: f.Name})
			continue
		}
		def := b.composed.FieldDef(typeName, f.Name)
		if def == nil {
			return nil, unknownField(typeName, f.Name)
		}
		owner, _ := b.composed.Owner(typeName, f.Name)
		coord := schema.FieldCoordinate(typeName, f.Name)
		fPath := append(slices.Clone(path), responseKey(f))

		local := owner == "" || owner == node.Subgraph ||
			b.composed.Shareable[coord] || slices.Contains(provided, f.Name)
		if local {
			cf, err := b.field(node, typeName, f, fPath)
			if err != nil {
				return nil, err
			}
			kept = append(kept, cf)
			continue
		}

		// Foreign field: only reachable through the entity protocol.
		if !b.composed.IsEntity(typeName) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s.%s is owned by %q but %s declares no key",
					errors.ErrKeyUnresolvable, typeName, f.Name, owner, typeName),
				"Planner", "selectionSet", "entity boundary")
		}
		if b.excluded[owner] {
			b.blocked = append(b.blocked, BlockedField{
				TypeName: typeName, Field: f.Name, Path: fPath, Subgraph: owner,
			})
			continue
		}

		child := b.childNode(node, owner, typeName, path)
		cf, err := b.field(child, typeName, f, fPath)
		if err != nil {
			return nil, err
		}
		child.selection = append(child.selection, cf)
		for _, r := range b.composed.Requires[coord] {
			if !slices.Contains(child.Requires, r) {
				child.Requires = append(child.Requires, r)
			}
			extra[r] = true
		}
		needKeys = true
	}

	// The parent fetch must return the key (and any @requires) fields so
	// representations can be built, whether or not the client asked.
	if needKeys {
		for _, k := range b.composed.KeyFields(typeName) {
			extra[k] = true
		}
		names := make([]string, 0, len(extra))
		for name := range extra {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !hasField(kept, name) {
				kept = append(kept, &ast.Field{Name: name})
			}
		}
	}
	return kept, nil
}

// childNode returns the entity fetch node for (parent, subgraph, type,
// path), creating it on first use so sibling foreign fields share one
// sub-query.
func (b *builder) childNode(parent *FetchNode, subgraph, typeName string, path []string) *FetchNode {
	key := fmt.Sprintf("%p|%s|%s|%s", parent, subgraph, typeName, pathKey(path))
	if child, ok := b.children[key]; ok {
		return child
	}
	child := &FetchNode{
		Subgraph:   subgraph,
		ParentType: typeName,
		KeyFields:  b.composed.KeyFields(typeName),
		ParentPath: slices.Clone(path),
		DependsOn:  []*FetchNode{parent},
	}
	b.children[key] = child
	b.nodes = append(b.nodes, child)
	return child
}

// flatten expands fragment spreads and inline fragments into plain
// fields. Conditions must match the enclosing type; interface-condition
// spreads are out of scope for the planner.
func (b *builder) flatten(typeName string, sels ast.SelectionSet) ([]*ast.Field, error) {
	return b.flattenActive(typeName, sels, nil)
}

// flattenActive carries the chain of fragment names currently being
// expanded so cyclic spreads are rejected instead of recursing.
func (b *builder) flattenActive(typeName string, sels ast.SelectionSet, active []string) ([]*ast.Field, error) {
	var fields []*ast.Field
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.InlineFragment:
			if s.TypeCondition != "" && s.TypeCondition != typeName {
				return nil, fragmentMismatch(typeName, s.TypeCondition)
			}
			sub, err := b.flattenActive(typeName, s.SelectionSet, active)
			if err != nil {
				return nil, err
			}
			fields = append(fields, sub...)
		case *ast.FragmentSpread:
			frag, ok := b.fragments[s.Name]
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: undefined fragment %q", errors.ErrInvalidQuery, s.Name),
					"Planner", "flatten", "fragment resolution")
			}
			if frag.TypeCondition != typeName {
				return nil, fragmentMismatch(typeName, frag.TypeCondition)
			}
			if slices.Contains(active, s.Name) {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: fragment cycle through %q", errors.ErrInvalidQuery, s.Name),
					"Planner", "flatten", "fragment resolution")
			}
			sub, err := b.flattenActive(typeName, frag.SelectionSet, append(active, s.Name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, sub...)
		}
	}
	return fields, nil
}

func unknownField(typeName, field string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s.%s", errors.ErrUnknownField, typeName, field),
		"Planner", "plan", "field resolution")
}

func fragmentMismatch(typeName, condition string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: fragment on %s cannot apply to %s", errors.ErrInvalidQuery, condition, typeName),
		"Planner", "flatten", "fragment resolution")
}

// responseKey is the alias under which a field appears in the response.
func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func hasField(sels ast.SelectionSet, name string) bool {
	for _, sel := range sels {
		if f, ok := sel.(*ast.Field); ok && f.Name == name {
			return true
		}
	}
	return false
}
