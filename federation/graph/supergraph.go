package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// Supergraph is the composed schema produced by Composer.Merge, carrying
// both the merged AST (for parsing/validating client operations against)
// and the structured join metadata the planner consumes directly rather
// than re-parsing join__* directives out of printed SDL.
type Supergraph struct {
	SubGraphs             []*SubGraph
	Schema                *ast.Document
	Ownership             map[string][]*SubGraph
	JoinTypes             map[string]*JoinType
	InterfaceObjectGraphs map[string][]string
	Inaccessible          bool
}

// GetSubGraphsForField returns every subgraph capable of resolving
// typeName.fieldName, in the order composition discovered them.
func (sg *Supergraph) GetSubGraphsForField(typeName, fieldName string) []*SubGraph {
	return sg.Ownership[typeName+"."+fieldName]
}

// GetFieldOwnerSubGraph returns the first (composition order) subgraph able
// to resolve typeName.fieldName, honoring @override via Composer.buildOwnership.
func (sg *Supergraph) GetFieldOwnerSubGraph(typeName, fieldName string) *SubGraph {
	owners := sg.Ownership[typeName+"."+fieldName]
	if len(owners) == 0 {
		return nil
	}
	return owners[0]
}

// GetEntityOwnerSubGraph returns the subgraph that authoritatively resolves
// entity keys for typeName: a non-extension resolvable definition if one
// exists, else the first resolvable extension. Returns nil for non-entities.
func (sg *Supergraph) GetEntityOwnerSubGraph(typeName string) *SubGraph {
	for _, s := range sg.SubGraphs {
		if t, ok := s.GetEntity(typeName); ok && !t.IsExtension && t.IsResolvable() {
			return s
		}
	}
	for _, s := range sg.SubGraphs {
		if t, ok := s.GetEntity(typeName); ok && t.IsResolvable() {
			return s
		}
	}
	return nil
}

// IsEntityType reports whether typeName has at least one resolvable @key in
// any subgraph.
func (sg *Supergraph) IsEntityType(typeName string) bool {
	return sg.GetEntityOwnerSubGraph(typeName) != nil
}

// GetSubGraphByName looks up a composed subgraph by name.
func (sg *Supergraph) GetSubGraphByName(name string) (*SubGraph, bool) {
	for _, s := range sg.SubGraphs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// SDL renders the composed schema as printable text with join__* metadata
// directives appended to each definition. This is intentionally a plain
// string builder rather than a reconstruction through ast.Directive/
// ast.Value nodes: join__* is an emission concern of this renderer, not a
// grammar the parser package needs to know about.
func (sg *Supergraph) SDL() string {
	var b strings.Builder

	b.WriteString("directive @join__graph(name: String!, url: String!) on ENUM_VALUE\n")
	b.WriteString("directive @join__type(graph: join__Graph!, key: String, extension: Boolean, resolvable: Boolean) repeatable on OBJECT | INTERFACE\n")
	b.WriteString("directive @join__field(graph: join__Graph, requires: String, provides: String, external: Boolean, override: String) on FIELD_DEFINITION\n")
	b.WriteString("directive @join__implements(graph: join__Graph!, interface: String!) repeatable on OBJECT | INTERFACE\n")
	b.WriteString("directive @join__unionMember(graph: join__Graph!, member: String!) repeatable on UNION\n")
	b.WriteString("directive @join__enumValue(graph: join__Graph!) repeatable on ENUM_VALUE\n")
	if sg.Inaccessible {
		b.WriteString("directive @inaccessible on FIELD_DEFINITION | OBJECT | INTERFACE | UNION | ENUM | ENUM_VALUE | SCALAR | INPUT_OBJECT | ARGUMENT_DEFINITION | INPUT_FIELD_DEFINITION\n")
	}

	b.WriteString("\nenum join__Graph {\n")
	for _, name := range sg.graphNames() {
		host := ""
		if s, ok := sg.GetSubGraphByName(name); ok {
			host = s.Host
		}
		fmt.Fprintf(&b, "  %s @join__graph(name: %q, url: %q)\n", joinEnumName(name), name, host)
	}
	b.WriteString("}\n")

	for _, def := range sg.Schema.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			sg.writeObjectLike(&b, "type", d.Name.String(), d.Interfaces, d.Fields, d.Directives)
		case *ast.InterfaceTypeDefinition:
			sg.writeObjectLike(&b, "interface", d.Name.String(), nil, d.Fields, d.Directives)
		case *ast.InputObjectTypeDefinition:
			sg.writeInput(&b, d.Name.String(), d.Fields)
		case *ast.EnumTypeDefinition:
			sg.writeEnum(&b, d.Name.String(), d.Values)
		case *ast.ScalarTypeDefinition:
			fmt.Fprintf(&b, "\nscalar %s\n", d.Name.String())
		case *ast.UnionTypeDefinition:
			sg.writeUnion(&b, d.Name.String(), d.Types)
		}
	}

	return b.String()
}

func (sg *Supergraph) graphNames() []string {
	names := make([]string, len(sg.SubGraphs))
	for i, s := range sg.SubGraphs {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}

// joinEnumName derives the join__Graph enum value for a subgraph name,
// upper-snake-casing it deterministically so the same subgraph name always
// yields the same enum value across composition runs.
func joinEnumName(subgraphName string) string {
	var b strings.Builder
	for _, r := range subgraphName {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 32)
		case r == '-' || r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (sg *Supergraph) writeObjectLike(b *strings.Builder, keyword, name string, interfaces []*ast.NamedType, fields []*ast.FieldDefinition, directives []*ast.Directive) {
	fmt.Fprintf(b, "\n%s %s", keyword, name)
	if len(interfaces) > 0 {
		b.WriteString(" implements")
		for i, iface := range interfaces {
			if i > 0 {
				b.WriteString(" &")
			}
			fmt.Fprintf(b, " %s", iface.Name.String())
		}
	}
	for _, iface := range interfaces {
		for _, g := range sg.graphsImplementing(name, iface.Name.String()) {
			fmt.Fprintf(b, " @join__implements(graph: %s, interface: %q)", joinEnumName(g), iface.Name.String())
		}
	}
	jt := sg.JoinTypes[name]
	if jt != nil {
		for _, g := range jt.Graphs {
			fmt.Fprintf(b, " @join__type(graph: %s)", joinEnumName(g))
		}
	}
	if hasDirective(directives, "inaccessible") {
		b.WriteString(" @inaccessible")
	}
	b.WriteString(" {\n")
	for _, f := range fields {
		fmt.Fprintf(b, "  %s: %s", f.Name.String(), printType(f.Type))
		if jt != nil {
			for _, jf := range jt.Fields[f.Name.String()] {
				b.WriteString(" @join__field(graph: ")
				b.WriteString(joinEnumName(jf.Graph))
				if jf.Requires != "" {
					fmt.Fprintf(b, ", requires: %q", jf.Requires)
				}
				if jf.Provides != "" {
					fmt.Fprintf(b, ", provides: %q", jf.Provides)
				}
				if jf.External {
					b.WriteString(", external: true")
				}
				if jf.Override != "" {
					fmt.Fprintf(b, ", override: %q", jf.Override)
				}
				b.WriteString(")")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
}

func (sg *Supergraph) graphsImplementing(typeName, interfaceName string) []string {
	jt := sg.JoinTypes[typeName]
	if jt == nil {
		return nil
	}
	return jt.Implements[interfaceName]
}

func (sg *Supergraph) writeInput(b *strings.Builder, name string, fields []*ast.InputValueDefinition) {
	fmt.Fprintf(b, "\ninput %s {\n", name)
	for _, f := range fields {
		fmt.Fprintf(b, "  %s: %s\n", f.Name.String(), printType(f.Type))
	}
	b.WriteString("}\n")
}

func (sg *Supergraph) writeEnum(b *strings.Builder, name string, values []*ast.EnumValueDefinition) {
	fmt.Fprintf(b, "\nenum %s {\n", name)
	jt := sg.JoinTypes[name]
	for _, v := range values {
		vn := v.Name.String()
		fmt.Fprintf(b, "  %s", vn)
		if jt != nil {
			for _, g := range jt.EnumValues[vn] {
				fmt.Fprintf(b, " @join__enumValue(graph: %s)", joinEnumName(g))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
}

func (sg *Supergraph) writeUnion(b *strings.Builder, name string, members []*ast.NamedType) {
	fmt.Fprintf(b, "\nunion %s", name)
	jt := sg.JoinTypes[name]
	if jt != nil {
		for _, m := range members {
			for _, g := range jt.UnionMembers[m.Name.String()] {
				fmt.Fprintf(b, " @join__unionMember(graph: %s, member: %q)", joinEnumName(g), m.Name.String())
			}
		}
	}
	b.WriteString(" =")
	for i, m := range members {
		if i > 0 {
			b.WriteString(" |")
		}
		fmt.Fprintf(b, " %s", m.Name.String())
	}
	b.WriteString("\n")
}

func printType(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NonNullType:
		return printType(typ.Type) + "!"
	case *ast.ListType:
		return "[" + printType(typ.Type) + "]"
	case *ast.NamedType:
		return typ.Name.String()
	default:
		return ""
	}
}
