package planner

import (
	"bytes"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// representationsVar is the variable carrying entity representations in
// rendered _entities sub-queries.
const representationsVar = "representations"

// renderNode fills in the node's Query text and referenced variable
// names. Root nodes keep the client's operation kind; entity nodes are
// always queries wrapping the pruned selection in an inline fragment on
// the entity type.
func renderNode(op *ast.OperationDefinition, node *FetchNode) {
	used := make(map[string]bool)
	collectVariables(node.selection, used)

	var defs ast.VariableDefinitionList
	operation := op.Operation
	selection := node.selection

	if node.IsEntityFetch() {
		operation = ast.Query
		defs = append(defs, &ast.VariableDefinition{
			Variable: representationsVar,
			Type:     ast.NonNullListType(ast.NonNullNamedType("_Any", nil), nil),
		})
		selection = ast.SelectionSet{&ast.Field{
			Name: "_entities",
			Arguments: ast.ArgumentList{&ast.Argument{
				Name:  "representations",
				Value: &ast.Value{Raw: representationsVar, Kind: ast.Variable},
			}},
			SelectionSet: ast.SelectionSet{&ast.InlineFragment{
				TypeCondition: node.ParentType,
				SelectionSet:  node.selection,
			}},
		}}
	}

	for _, vd := range op.VariableDefinitions {
		if used[vd.Variable] {
			defs = append(defs, &ast.VariableDefinition{
				Variable:     vd.Variable,
				Type:         vd.Type,
				DefaultValue: vd.DefaultValue,
			})
		}
	}

	doc := &ast.QueryDocument{Operations: ast.OperationList{{
		Operation:           operation,
		VariableDefinitions: defs,
		SelectionSet:        selection,
	}}}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	node.Query = strings.TrimSpace(buf.String())

	node.Variables = make([]string, 0, len(used))
	for name := range used {
		node.Variables = append(node.Variables, name)
	}
	sort.Strings(node.Variables)
}

func collectVariables(sels ast.SelectionSet, used map[string]bool) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				valueVariables(arg.Value, used)
			}
			collectVariables(s.SelectionSet, used)
		case *ast.InlineFragment:
			collectVariables(s.SelectionSet, used)
		}
	}
}

func valueVariables(v *ast.Value, used map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		used[v.Raw] = true
	}
	for _, child := range v.Children {
		valueVariables(child.Value, used)
	}
}
