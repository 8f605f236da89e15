package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/c360/fedgateway/errors"
)

// Federation directive names recognized in subgraph SDL.
const (
	directiveKey       = "key"
	directiveExtends   = "extends"
	directiveExternal  = "external"
	directiveProvides  = "provides"
	directiveRequires  = "requires"
	directiveShareable = "shareable"
	directiveOverride  = "override"
)

// Subgraph is one registered subgraph's parsed schema contribution.
// Immutable once built.
type Subgraph struct {
	Name     string
	Endpoint string
	SDL      string

	// Objects maps object type name to this subgraph's contribution,
	// with base and extend blocks from the same document merged.
	Objects map[string]*ObjectContribution

	// Others carries non-object definitions (scalars, enums, inputs,
	// interfaces, unions) passed through to composition unchanged.
	Others []*ast.Definition
}

// ObjectContribution is one subgraph's view of a single object type.
type ObjectContribution struct {
	Name string
	// Extends is set when the type is declared via an extend block or
	// carries the @extends directive, meaning another subgraph owns the
	// base definition.
	Extends bool
	// Key holds the ordered key fields from the first @key directive,
	// empty for non-entity types.
	Key []string
	// Fields in declaration order.
	Fields []*FieldContribution
}

// FieldContribution is one subgraph's declaration of a single field.
type FieldContribution struct {
	Def       *ast.FieldDefinition
	External  bool
	Shareable bool
	// Override names the subgraph this declaration takes the field
	// over from, per @override(from: "...").
	Override string
	// Requires lists parent fields the owner needs included in entity
	// representations before it can resolve this field.
	Requires []string
	// Provides lists child fields this subgraph can resolve locally
	// even though another subgraph owns them.
	Provides []string
}

// Field returns the named field contribution, or nil.
func (o *ObjectContribution) Field(name string) *FieldContribution {
	for _, f := range o.Fields {
		if f.Def.Name == name {
			return f
		}
	}
	return nil
}

// ParseSubgraph parses a subgraph SDL document and extracts its federation
// directives. Subgraph SDL may extend types owned elsewhere, so the
// document is parsed without cross-type validation; malformed SDL and
// entity types whose declared key fields are absent are rejected here.
func ParseSubgraph(name, endpoint, sdl string) (*Subgraph, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrMalformedSDL, err),
			"Subgraph", "ParseSubgraph", "parse SDL")
	}

	sg := &Subgraph{
		Name:     name,
		Endpoint: endpoint,
		SDL:      sdl,
		Objects:  make(map[string]*ObjectContribution),
	}

	for _, def := range doc.Definitions {
		sg.addDefinition(def, false)
	}
	for _, def := range doc.Extensions {
		sg.addDefinition(def, true)
	}

	if err := sg.validateKeys(); err != nil {
		return nil, err
	}
	return sg, nil
}

func (s *Subgraph) addDefinition(def *ast.Definition, extension bool) {
	if def.Kind != ast.Object && def.Kind != ast.Interface {
		if !extension {
			s.Others = append(s.Others, def)
		}
		return
	}

	obj, ok := s.Objects[def.Name]
	if !ok {
		obj = &ObjectContribution{Name: def.Name}
		s.Objects[def.Name] = obj
	}
	if extension || def.Directives.ForName(directiveExtends) != nil {
		obj.Extends = true
	}
	if key := def.Directives.ForName(directiveKey); key != nil && len(obj.Key) == 0 {
		obj.Key = parseFieldSet(argumentValue(key, "fields"))
	}
	typeShareable := def.Directives.ForName(directiveShareable) != nil

	for _, fd := range def.Fields {
		fc := &FieldContribution{
			Def:       fd,
			External:  fd.Directives.ForName(directiveExternal) != nil,
			Shareable: typeShareable || fd.Directives.ForName(directiveShareable) != nil,
		}
		if d := fd.Directives.ForName(directiveOverride); d != nil {
			fc.Override = argumentValue(d, "from")
		}
		if d := fd.Directives.ForName(directiveRequires); d != nil {
			fc.Requires = parseFieldSet(argumentValue(d, "fields"))
		}
		if d := fd.Directives.ForName(directiveProvides); d != nil {
			fc.Provides = parseFieldSet(argumentValue(d, "fields"))
		}
		obj.Fields = append(obj.Fields, fc)
	}
}

// validateKeys checks that every declared key field is actually present on
// the declaring type, in this subgraph's own contribution.
func (s *Subgraph) validateKeys() error {
	names := make([]string, 0, len(s.Objects))
	for name := range s.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		obj := s.Objects[name]
		for _, key := range obj.Key {
			if obj.Field(key) == nil {
				return errors.WrapInvalid(
					fmt.Errorf("%w: type %s declares key field %q it does not define",
						errors.ErrMissingKey, obj.Name, key),
					"Subgraph", "validateKeys", "key validation")
			}
		}
	}
	return nil
}

// argumentValue returns the raw value of a directive argument, empty when
// the argument is absent.
func argumentValue(d *ast.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return arg.Value.Raw
}

// parseFieldSet splits a federation field-set string ("id sku") into
// field names. Nested selections are flattened to their top-level names.
func parseFieldSet(raw string) []string {
	var fields []string
	depth := 0
	for _, tok := range strings.Fields(raw) {
		name := strings.Trim(tok, "{}")
		if name != "" && depth == 0 {
			fields = append(fields, name)
		}
		depth += strings.Count(tok, "{") - strings.Count(tok, "}")
	}
	return fields
}
