package executor

import (
	"slices"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/c360/fedgateway/schema"
)

// entityRef is one entity object found in the merged tree, with its full
// response path (list indices included). Collection order is the
// representation order, so positional merge lines up.
type entityRef struct {
	obj  map[string]any
	path []any
}

// collectEntities walks the merged tree down fieldPath, descending list
// elements, and returns every entity object found at the end.
func collectEntities(value any, fieldPath []string, prefix []any) []entityRef {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		var refs []entityRef
		for i, elem := range v {
			next := append(slices.Clone(prefix), i)
			refs = append(refs, collectEntities(elem, fieldPath, next)...)
		}
		return refs
	case map[string]any:
		if len(fieldPath) == 0 {
			return []entityRef{{obj: v, path: prefix}}
		}
		child, ok := v[fieldPath[0]]
		if !ok {
			return nil
		}
		return collectEntities(child, fieldPath[1:], append(slices.Clone(prefix), fieldPath[0]))
	default:
		return nil
	}
}

// mergeObject deep-merges src into dst. Objects merge recursively,
// everything else (scalars, lists) is replaced.
func mergeObject(dst, src map[string]any) {
	for k, v := range src {
		if dv, ok := dst[k].(map[string]any); ok {
			if sv, ok := v.(map[string]any); ok {
				mergeObject(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// projector shapes the merged tree through the client's selection set,
// dropping injected key fields and applying null propagation.
type projector struct {
	composed  *schema.Composed
	fragments map[string]*ast.FragmentDefinition
}

// project builds the response data for the client operation. A nil
// return means null propagation reached the root.
func (p *projector) project(op *ast.OperationDefinition, rootTypenames []string, merged map[string]any) map[string]any {
	rootType := "Query"
	if op.Operation == ast.Mutation {
		rootType = "Mutation"
	}
	data, bubble := p.selection(rootType, op.SelectionSet, merged)
	if bubble {
		return nil
	}
	for _, key := range rootTypenames {
		data[key] = rootType
	}
	return data
}

// selection projects one object. The second return is true when a
// non-nullable field was null and the whole object must become null.
func (p *projector) selection(typeName string, sels ast.SelectionSet, value map[string]any) (map[string]any, bool) {
	out := make(map[string]any)
	for _, f := range p.flatten(sels) {
		key := responseKey(f)
		if f.Name == "__typename" {
			out[key] = typeName
			continue
		}
		def := p.composed.FieldDef(typeName, f.Name)
		if def == nil {
			// Unknown fields were rejected at planning; being here
			// means the plan and schema generation diverged.
			out[key] = nil
			continue
		}
		projected, isNull := p.value(def.Type, f.SelectionSet, value[key])
		if isNull && def.Type.NonNull {
			return nil, true
		}
		out[key] = projected
	}
	return out, false
}

// value projects one field value against its declared type.
func (p *projector) value(t *ast.Type, sels ast.SelectionSet, raw any) (any, bool) {
	if raw == nil {
		return nil, true
	}

	if t.Elem != nil {
		items, ok := raw.([]any)
		if !ok {
			return nil, true
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			projected, isNull := p.value(t.Elem, sels, item)
			if isNull && t.Elem.NonNull {
				// A null element poisons the list itself.
				return nil, true
			}
			out = append(out, projected)
		}
		return out, false
	}

	if len(sels) == 0 {
		return raw, false
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, true
	}
	projected, bubble := p.selection(t.Name(), sels, obj)
	if bubble {
		return nil, true
	}
	return projected, false
}

// flatten expands fragments into plain fields. Conditions were already
// checked by the planner; cyclic spreads are skipped rather than
// expanded, matching the planner's rejection of such documents.
func (p *projector) flatten(sels ast.SelectionSet) []*ast.Field {
	return p.flattenActive(sels, nil)
}

func (p *projector) flattenActive(sels ast.SelectionSet, active []string) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.InlineFragment:
			fields = append(fields, p.flattenActive(s.SelectionSet, active)...)
		case *ast.FragmentSpread:
			if slices.Contains(active, s.Name) {
				continue
			}
			if frag, ok := p.fragments[s.Name]; ok {
				fields = append(fields, p.flattenActive(frag.SelectionSet, append(active, s.Name))...)
			}
		}
	}
	return fields
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}
