package schema

import (
	"bytes"
	"slices"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/c360/fedgateway/errors"
)

// compose merges the registered subgraphs into a new snapshot. Bases are
// merged before extensions so that entity keys are established by the
// owning subgraph. Any conflict aborts the whole composition.
func compose(subgraphs []*Subgraph, generation uint64) (*Composed, error) {
	sorted := slices.Clone(subgraphs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	b := &composition{
		composed: &Composed{
			Generation: generation,
			Types:      make(map[string]*ast.Definition),
			Ownership:  make(map[string]string),
			Shareable:  make(map[string]bool),
			EntityKeys: make(map[string][]string),
			Requires:   make(map[string][]string),
			Provides:   make(map[string][]string),
			Endpoints:  make(map[string]string),
		},
		keyDeclarer: make(map[string]string),
		others:      make(map[string]*ast.Definition),
	}

	for _, sg := range sorted {
		b.composed.Subgraphs = append(b.composed.Subgraphs, sg.Name)
		b.composed.Endpoints[sg.Name] = sg.Endpoint
		for _, def := range sg.Others {
			b.mergeOther(def)
		}
	}
	for _, sg := range sorted {
		b.mergeObjects(sg, false)
	}
	for _, sg := range sorted {
		b.mergeObjects(sg, true)
	}
	b.checkKeyResolvability(sorted)

	if len(b.conflicts) > 0 {
		return nil, newCompositionError(b.conflicts)
	}

	b.composed.SDL = renderSDL(b.composed.Types, b.others)
	return b.composed, nil
}

// composition accumulates merge state for a single compose run.
type composition struct {
	composed    *Composed
	keyDeclarer map[string]string // entity type -> subgraph that declared its key
	others      map[string]*ast.Definition
	conflicts   []Conflict
}

func (b *composition) mergeObjects(sg *Subgraph, extensions bool) {
	names := make([]string, 0, len(sg.Objects))
	for name := range sg.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		obj := sg.Objects[name]
		if obj.Extends != extensions || isFederationType(name) {
			continue
		}
		b.mergeKey(sg.Name, obj)
		for _, fc := range obj.Fields {
			b.mergeField(sg.Name, obj, fc)
		}
	}
}

func (b *composition) mergeKey(sgName string, obj *ObjectContribution) {
	if len(obj.Key) == 0 {
		return
	}
	existing, ok := b.composed.EntityKeys[obj.Name]
	if !ok {
		b.composed.EntityKeys[obj.Name] = obj.Key
		b.keyDeclarer[obj.Name] = sgName
		return
	}
	if !slices.Equal(existing, obj.Key) {
		b.conflicts = append(b.conflicts, Conflict{
			Type:      obj.Name,
			Subgraphs: []string{b.keyDeclarer[obj.Name], sgName},
			Reason:    errors.ErrKeyUnresolvable,
		})
	}
}

func (b *composition) mergeField(sgName string, obj *ObjectContribution, fc *FieldContribution) {
	if isFederationField(fc.Def.Name) {
		return
	}
	def := b.typeDef(obj.Name)
	coord := FieldCoordinate(obj.Name, fc.Def.Name)

	if fc.External {
		// Externals reference another subgraph's field, they never
		// claim ownership or contribute a definition.
		return
	}

	if len(fc.Requires) > 0 {
		b.composed.Requires[coord] = fc.Requires
	}
	if len(fc.Provides) > 0 {
		b.composed.Provides[coord] = fc.Provides
	}

	owner, owned := b.composed.Ownership[coord]
	switch {
	case !owned:
		b.composed.Ownership[coord] = sgName
		if fc.Shareable {
			b.composed.Shareable[coord] = true
		}
		if def.Fields.ForName(fc.Def.Name) == nil {
			def.Fields = append(def.Fields, stripField(fc.Def))
		}
	case owner == sgName:
		// Duplicate declaration inside the same subgraph document.
	case fc.Override != "" && fc.Override == owner:
		b.composed.Ownership[coord] = sgName
	case b.isKeyField(obj.Name, fc.Def.Name):
		// Extensions redeclare key fields so they can resolve
		// representations; not a conflict even without @external.
	case fc.Shareable || b.composed.Shareable[coord]:
		b.composed.Shareable[coord] = true
	default:
		b.conflicts = append(b.conflicts, Conflict{
			Type:      obj.Name,
			Field:     fc.Def.Name,
			Subgraphs: []string{owner, sgName},
			Reason:    errors.ErrFieldConflict,
		})
	}
}

// checkKeyResolvability verifies that every subgraph extending an entity
// declares all of that entity's key fields, so representations built from
// key values can be resolved there.
func (b *composition) checkKeyResolvability(subgraphs []*Subgraph) {
	for _, sg := range subgraphs {
		names := make([]string, 0, len(sg.Objects))
		for name := range sg.Objects {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			obj := sg.Objects[name]
			key := b.composed.EntityKeys[name]
			if !obj.Extends || len(key) == 0 {
				continue
			}
			for _, field := range key {
				if obj.Field(field) == nil {
					b.conflicts = append(b.conflicts, Conflict{
						Type:      name,
						Field:     field,
						Subgraphs: []string{sg.Name},
						Reason:    errors.ErrKeyUnresolvable,
					})
				}
			}
		}
	}
}

func (b *composition) typeDef(name string) *ast.Definition {
	if def, ok := b.composed.Types[name]; ok {
		return def
	}
	def := &ast.Definition{Kind: ast.Object, Name: name}
	b.composed.Types[name] = def
	return def
}

func (b *composition) isKeyField(typeName, field string) bool {
	return slices.Contains(b.composed.EntityKeys[typeName], field)
}

// mergeOther keeps the first definition seen for non-object types.
// Subgraphs commonly repeat shared scalars and enums; identical redefinition
// is tolerated rather than diffed.
func (b *composition) mergeOther(def *ast.Definition) {
	if isFederationType(def.Name) {
		return
	}
	if _, ok := b.others[def.Name]; !ok {
		b.others[def.Name] = stripDefinition(def)
	}
}

// isFederationType reports machinery types from the subgraph contract that
// must not surface in the composed schema.
func isFederationType(name string) bool {
	switch name {
	case "_Service", "_Any", "_Entity", "_FieldSet":
		return true
	}
	return false
}

// isFederationField reports contract fields (_service, _entities) injected
// into subgraph Query types.
func isFederationField(name string) bool {
	return strings.HasPrefix(name, "_")
}

func stripField(fd *ast.FieldDefinition) *ast.FieldDefinition {
	cp := *fd
	cp.Directives = nil
	return &cp
}

func stripDefinition(def *ast.Definition) *ast.Definition {
	cp := *def
	cp.Directives = nil
	return &cp
}

// renderSDL formats the merged definitions as a client-facing schema
// document. Root types come first, everything else alphabetically.
func renderSDL(objects map[string]*ast.Definition, others map[string]*ast.Definition) string {
	var defs ast.DefinitionList
	for _, def := range objects {
		defs = append(defs, def)
	}
	for _, def := range others {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		ri, rj := rootRank(defs[i].Name), rootRank(defs[j].Name)
		if ri != rj {
			return ri < rj
		}
		return defs[i].Name < defs[j].Name
	})

	var buf bytes.Buffer
	f := formatter.NewFormatter(&buf)
	f.FormatSchemaDocument(&ast.SchemaDocument{Definitions: defs})
	return buf.String()
}

func rootRank(name string) int {
	switch name {
	case "Query":
		return 0
	case "Mutation":
		return 1
	case "Subscription":
		return 2
	}
	return 3
}
