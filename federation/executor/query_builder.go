package executor

import (
	"fmt"
	"strings"

	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/federated-graph/gwcore/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
)

// QueryBuilder renders a FetchNode's selection set into the GraphQL document
// text sent to a subgraph, either as a direct root query/mutation or as an
// `_entities` representations query, with one signature for both call sites.
type QueryBuilder struct {
	supergraph *graph.Supergraph
}

// NewQueryBuilder builds a QueryBuilder over sg.
func NewQueryBuilder(sg *graph.Supergraph) *QueryBuilder {
	return &QueryBuilder{supergraph: sg}
}

// Build renders fetch into a GraphQL request body. representations is nil for
// root fetches and non-empty for entity fetches.
func (qb *QueryBuilder) Build(fetch *planner.FetchNode, representations []map[string]any, variables map[string]any) (string, map[string]any, error) {
	if representations != nil {
		return qb.buildEntityQuery(fetch, representations, variables)
	}
	return qb.buildRootQuery(fetch, variables)
}

func (qb *QueryBuilder) buildRootQuery(fetch *planner.FetchNode, variables map[string]any) (string, map[string]any, error) {
	var sb strings.Builder

	varNames := qb.collectVariables(fetch.SelectionSet)
	opType := fetch.OperationType
	if opType == "" {
		opType = "query"
	}

	sb.WriteString(opType)
	if len(varNames) > 0 {
		sb.WriteString(" (")
		for i, name := range varNames {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(qb.inferVariableType(name, variables, fetch))
		}
		sb.WriteString(")")
	}
	sb.WriteString(" {\n")

	for _, sel := range fetch.SelectionSet {
		if err := qb.writeSelection(&sb, sel, "\t", fetch, fetch.ParentType); err != nil {
			return "", nil, err
		}
	}
	sb.WriteString("}")

	return sb.String(), variables, nil
}

func (qb *QueryBuilder) buildEntityQuery(fetch *planner.FetchNode, representations []map[string]any, variables map[string]any) (string, map[string]any, error) {
	if len(representations) == 0 {
		return "", nil, fmt.Errorf("representations cannot be empty for entity query")
	}

	var sb strings.Builder
	sb.WriteString("query ($representations: [_Any!]!) {\n")
	sb.WriteString("\t_entities(representations: $representations) {\n")
	sb.WriteString("\t\t... on ")
	sb.WriteString(fetch.ParentType)
	sb.WriteString(" {\n")

	for _, sel := range fetch.SelectionSet {
		if err := qb.writeSelection(&sb, sel, "\t\t\t", fetch, fetch.ParentType); err != nil {
			return "", nil, err
		}
	}

	sb.WriteString("\t\t}\n\t}\n}")

	newVariables := make(map[string]any, len(variables)+1)
	for k, v := range variables {
		newVariables[k] = v
	}
	newVariables["representations"] = representations

	return sb.String(), newVariables, nil
}

func (qb *QueryBuilder) collectVariables(selections []ast.Selection) []string {
	vars := make(map[string]bool)
	qb.collectVariablesRecursive(selections, vars)
	out := make([]string, 0, len(vars))
	for v := range vars {
		out = append(out, v)
	}
	return out
}

func (qb *QueryBuilder) collectVariablesRecursive(selections []ast.Selection, vars map[string]bool) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				qb.collectVariablesFromValue(arg.Value, vars)
			}
			if len(s.SelectionSet) > 0 {
				qb.collectVariablesRecursive(s.SelectionSet, vars)
			}
		case *ast.InlineFragment:
			if len(s.SelectionSet) > 0 {
				qb.collectVariablesRecursive(s.SelectionSet, vars)
			}
		}
	}
}

func (qb *QueryBuilder) collectVariablesFromValue(val ast.Value, vars map[string]bool) {
	switch v := val.(type) {
	case *ast.Variable:
		vars[v.Name] = true
	case *ast.ListValue:
		for _, item := range v.Values {
			qb.collectVariablesFromValue(item, vars)
		}
	case *ast.ObjectValue:
		for _, field := range v.Fields {
			qb.collectVariablesFromValue(field.Value, vars)
		}
	}
}

func (qb *QueryBuilder) inferVariableType(varName string, variables map[string]any, fetch *planner.FetchNode) string {
	if sg, ok := qb.supergraph.GetSubGraphByName(fetch.SubGraph); ok {
		if varType := qb.variableTypeFromSchema(varName, fetch, sg); varType != "" {
			return varType
		}
	}
	if val, ok := variables[varName]; ok {
		switch val.(type) {
		case string:
			return "String"
		case int, int32, int64:
			return "Int"
		case float32, float64:
			return "Float"
		case bool:
			return "Boolean"
		}
	}
	return "String"
}

func (qb *QueryBuilder) variableTypeFromSchema(varName string, fetch *planner.FetchNode, sg *graph.SubGraph) string {
	for _, sel := range fetch.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		for _, arg := range field.Arguments {
			if variable, ok := arg.Value.(*ast.Variable); ok && variable.Name == varName {
				return qb.argumentTypeFromSchema(sg, fetch.ParentType, field.Name.String(), arg.Name.String())
			}
		}
	}
	return ""
}

func (qb *QueryBuilder) argumentTypeFromSchema(sg *graph.SubGraph, parentType, fieldName, argName string) string {
	if sg == nil || sg.Schema == nil {
		return ""
	}
	for _, def := range sg.Schema.Document.Definitions {
		objType, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objType.Name.String() != parentType {
			continue
		}
		for _, field := range objType.Fields {
			if field.Name.String() != fieldName {
				continue
			}
			for _, arg := range field.Arguments {
				if arg.Name.String() == argName {
					return arg.Type.String()
				}
			}
		}
	}
	return ""
}

func (qb *QueryBuilder) fieldType(sg *graph.SubGraph, parentType, fieldName string) string {
	if sg == nil || sg.Schema == nil {
		return ""
	}
	for _, def := range sg.Schema.Document.Definitions {
		objType, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || objType.Name.String() != parentType {
			continue
		}
		for _, field := range objType.Fields {
			if field.Name.String() == fieldName {
				return qb.baseTypeName(field.Type.String())
			}
		}
	}
	return ""
}

func (qb *QueryBuilder) baseTypeName(typeStr string) string {
	cleaned := strings.Trim(typeStr, "[]!")
	cleaned = strings.ReplaceAll(cleaned, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")
	cleaned = strings.ReplaceAll(cleaned, "!", "")
	return cleaned
}

func (qb *QueryBuilder) writeSelection(sb *strings.Builder, sel ast.Selection, indent string, fetch *planner.FetchNode, parentType string) error {
	sg, _ := qb.supergraph.GetSubGraphByName(fetch.SubGraph)

	switch s := sel.(type) {
	case *ast.Field:
		fieldName := s.Name.String()
		sb.WriteString(indent)
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(fieldName)

		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				qb.writeValue(sb, arg.Value)
			}
			sb.WriteString(")")
		}

		if len(s.SelectionSet) > 0 {
			fieldType := qb.fieldType(sg, parentType, fieldName)
			sb.WriteString(" {\n")
			for _, subSel := range s.SelectionSet {
				if err := qb.writeSelection(sb, subSel, indent+"\t", fetch, fieldType); err != nil {
					return err
				}
			}
			sb.WriteString(indent)
			sb.WriteString("}")
		}
		sb.WriteString("\n")

	case *ast.InlineFragment:
		sb.WriteString(indent)
		sb.WriteString("... on ")
		typeCondition := s.TypeCondition.Name.String()
		sb.WriteString(typeCondition)
		sb.WriteString(" {\n")
		for _, subSel := range s.SelectionSet {
			if err := qb.writeSelection(sb, subSel, indent+"\t", fetch, typeCondition); err != nil {
				return err
			}
		}
		sb.WriteString(indent)
		sb.WriteString("}\n")

	case *ast.FragmentSpread:
		sb.WriteString(indent)
		sb.WriteString("...")
		sb.WriteString(s.Name.String())
		sb.WriteString("\n")
	}

	return nil
}

func (qb *QueryBuilder) writeValue(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		sb.WriteString("\"")
		sb.WriteString(v.Value)
		sb.WriteString("\"")
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%f", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			qb.writeValue(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(": ")
			qb.writeValue(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}
