package graph

import (
	"fmt"
	"sort"

	"github.com/n9te9/graphql-parser/ast"
)

// HintKind classifies a non-fatal composition observation.
type HintKind int

const (
	HintInputFieldTypeConflict HintKind = iota
	HintOverrideSourceMissing
	HintShareableFieldMismatch
)

// Hint is a composition observation that does not fail the build — used for
// input-object field conflicts, which are reported rather than rejected.
type Hint struct {
	Kind    HintKind
	Message string
}

// JoinType records, for one named type, which subgraphs contribute to it and
// which fields each subgraph resolves — the structured equivalent of the
// join__type/join__field directives printed into the supergraph SDL.
type JoinType struct {
	Graphs       []string
	Fields       map[string][]JoinField // field name -> per-graph join__field info
	Implements   map[string][]string    // interface name -> graphs declaring "implements" it
	UnionMembers map[string][]string    // member type name -> contributing graphs
	EnumValues   map[string][]string    // enum value name -> contributing graphs
}

// JoinField is one subgraph's contribution to a field, mirroring join__field's
// arguments (graph, requires, provides, type override, external).
type JoinField struct {
	Graph    string
	Requires string
	Provides string
	External bool
	Override string // source graph name being overridden, if any
}

// Composer merges a set of subgraph schemas into a supergraph.
type Composer struct{}

// Merge composes subgraphs into a Supergraph. Subgraphs are processed in
// name order so composition is deterministic regardless of registration
// order, matching determinism requirement.
func (Composer) Merge(subgraphs []*SubGraph) (*Supergraph, []Hint, error) {
	if len(subgraphs) == 0 {
		return nil, nil, fmt.Errorf("graph: cannot compose an empty set of subgraphs")
	}

	sorted := make([]*SubGraph, len(subgraphs))
	copy(sorted, subgraphs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	sg := &Supergraph{
		SubGraphs:            sorted,
		Schema:               &ast.Document{Definitions: make([]ast.Definition, 0)},
		Ownership:            make(map[string][]*SubGraph),
		JoinTypes:            make(map[string]*JoinType),
		InterfaceObjectGraphs: make(map[string][]string),
	}

	var hints []Hint
	for _, s := range sorted {
		mergeSchemaInto(sg.Schema, s.Schema.Document)
	}

	for _, s := range sorted {
		for name, t := range s.Types {
			jt := sg.joinType(name)
			jt.Graphs = appendUnique(jt.Graphs, s.Name)
			if t.InterfaceObject {
				for _, ifaceName := range interfaceImplementersOf(sg.Schema, name) {
					sg.InterfaceObjectGraphs[ifaceName] = appendUnique(sg.InterfaceObjectGraphs[ifaceName], s.Name)
				}
			}
			for _, ifaceName := range t.Interfaces {
				jt.Implements[ifaceName] = appendUnique(jt.Implements[ifaceName], s.Name)
			}
			for _, member := range t.UnionMembers {
				jt.UnionMembers[member] = appendUnique(jt.UnionMembers[member], s.Name)
			}
			for _, value := range t.EnumValues {
				jt.EnumValues[value] = appendUnique(jt.EnumValues[value], s.Name)
			}
			for fname, f := range t.Fields {
				from, label, hasOverride := f.GetOverride()
				jf := JoinField{Graph: s.Name, Requires: joinFieldSet(f.Requires), Provides: joinFieldSet(f.Provides), External: f.External}
				if hasOverride {
					jf.Override = from
					_ = label
				}
				jt.Fields[fname] = append(jt.Fields[fname], jf)
			}
		}
	}

	hints = append(hints, sg.buildOwnership()...)
	hints = append(hints, checkInputConflicts(sorted)...)

	sg.Inaccessible = anyInaccessible(sorted)

	return sg, hints, nil
}

func (sg *Supergraph) joinType(name string) *JoinType {
	jt, ok := sg.JoinTypes[name]
	if !ok {
		jt = &JoinType{
			Fields:       make(map[string][]JoinField),
			Implements:   make(map[string][]string),
			UnionMembers: make(map[string][]string),
			EnumValues:   make(map[string][]string),
		}
		sg.JoinTypes[name] = jt
	}
	return jt
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func joinFieldSet(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}

// buildOwnership determines, for every Type.Field in the composed schema,
// which subgraphs can resolve it: a subgraph resolves typeName.fieldName if
// it declares the field non-externally, unless @override has moved
// resolution away from it for this field.
func (sg *Supergraph) buildOwnership() []Hint {
	var hints []Hint

	overrideWinner := make(map[string]string) // "Type.field" -> winning graph
	overrideLoser := make(map[string]string)   // "Type.field" -> overridden-from graph

	for _, s := range sg.SubGraphs {
		for typeName, t := range s.Types {
			for fieldName, f := range t.Fields {
				if from, _, ok := f.GetOverride(); ok {
					key := typeName + "." + fieldName
					overrideWinner[key] = s.Name
					overrideLoser[key] = from
				}
			}
		}
	}

	for _, s := range sg.SubGraphs {
		for typeName, t := range s.Types {
			for fieldName := range t.Fields {
				if !s.ResolvesField(typeName, fieldName) {
					continue
				}
				key := typeName + "." + fieldName
				if loser, ok := overrideLoser[key]; ok && loser == s.Name {
					continue // resolution moved away from this subgraph
				}
				sg.Ownership[key] = append(sg.Ownership[key], s)
			}
		}
	}

	for key, winner := range overrideWinner {
		found := false
		for _, owner := range sg.Ownership[key] {
			if owner.Name == winner {
				found = true
				break
			}
		}
		if !found {
			hints = append(hints, Hint{Kind: HintOverrideSourceMissing, Message: fmt.Sprintf("override winner %q never resolved %q", winner, key)})
		}
	}

	return hints
}

// checkInputConflicts emits a hint (never an error) when two subgraphs
// declare an input field with different printed types.
func checkInputConflicts(subgraphs []*SubGraph) []Hint {
	seen := make(map[string]string) // "Input.field" -> type string seen first
	var hints []Hint
	for _, s := range subgraphs {
		for typeName, t := range s.Types {
			if t.Kind != KindInput {
				continue
			}
			for fieldName, f := range t.Fields {
				key := typeName + "." + fieldName
				printed := printType(f.Type)
				if prev, ok := seen[key]; ok {
					if prev != printed {
						hints = append(hints, Hint{
							Kind:    HintInputFieldTypeConflict,
							Message: fmt.Sprintf("input field %q: %q declares %q, a previously seen subgraph declared %q", key, s.Name, printed, prev),
						})
					}
					continue
				}
				seen[key] = printed
			}
		}
	}
	return hints
}

func anyInaccessible(subgraphs []*SubGraph) bool {
	for _, s := range subgraphs {
		for _, t := range s.Types {
			if t.Inaccessible {
				return true
			}
			for _, f := range t.Fields {
				if f.Inaccessible {
					return true
				}
			}
		}
	}
	return false
}

func interfaceImplementersOf(doc *ast.Document, interfaceName string) []string {
	var out []string
	for _, def := range doc.Definitions {
		obj, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		for _, iface := range obj.Interfaces {
			if iface.Name.String() == interfaceName {
				out = append(out, obj.Name.String())
			}
		}
	}
	return out
}

// mergeSchemaInto deep-copy-merges newSchema's definitions into dst,
// deduplicating by (kind, name) and unioning fields by name — generalized
// to every definition kind a federated schema can declare, not just object
// types.
func mergeSchemaInto(dst *ast.Document, newSchema *ast.Document) {
	for _, newDef := range newSchema.Definitions {
		switch d := newDef.(type) {
		case *ast.ObjectTypeDefinition:
			mergeObjectInto(dst, d.Name.String(), d.Interfaces, copyFieldDefs(d.Fields), copyDirectiveList(d.Directives))
		case *ast.ObjectTypeExtension:
			mergeObjectInto(dst, d.Name.String(), d.Interfaces, copyFieldDefs(d.Fields), copyDirectiveList(d.Directives))
		case *ast.InterfaceTypeDefinition:
			mergeInterfaceInto(dst, d.Name.String(), copyFieldDefs(d.Fields), copyDirectiveList(d.Directives))
		case *ast.InputObjectTypeDefinition:
			mergeInputInto(dst, d.Name.String(), copyInputValueDefs(d.Fields), copyDirectiveList(d.Directives))
		case *ast.EnumTypeDefinition:
			mergeEnumInto(dst, d.Name.String(), d.Values, copyDirectiveList(d.Directives))
		case *ast.ScalarTypeDefinition:
			mergeScalarInto(dst, d.Name.String(), copyDirectiveList(d.Directives))
		case *ast.UnionTypeDefinition:
			mergeUnionInto(dst, d.Name.String(), d.Types, copyDirectiveList(d.Directives))
		case *ast.DirectiveDefinition:
			mergeDirectiveDefInto(dst, d)
		}
	}
}

func mergeObjectInto(dst *ast.Document, name string, interfaces []*ast.NamedType, fields []*ast.FieldDefinition, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.ObjectTypeDefinition); ok && existing.Name.String() == name {
			existing.Fields = mergeFieldDefs(existing.Fields, fields)
			existing.Directives = append(existing.Directives, directives...)
			existing.Interfaces = mergeNamedTypes(existing.Interfaces, interfaces)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.ObjectTypeDefinition{
		Name: ast.Name(name), Interfaces: interfaces, Fields: fields, Directives: directives,
	})
}

func mergeInterfaceInto(dst *ast.Document, name string, fields []*ast.FieldDefinition, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.InterfaceTypeDefinition); ok && existing.Name.String() == name {
			existing.Fields = mergeFieldDefs(existing.Fields, fields)
			existing.Directives = append(existing.Directives, directives...)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.InterfaceTypeDefinition{
		Name: ast.Name(name), Fields: fields, Directives: directives,
	})
}

func mergeInputInto(dst *ast.Document, name string, fields []*ast.InputValueDefinition, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.InputObjectTypeDefinition); ok && existing.Name.String() == name {
			existing.Fields = mergeInputValueDefs(existing.Fields, fields)
			existing.Directives = append(existing.Directives, directives...)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.InputObjectTypeDefinition{
		Name: ast.Name(name), Fields: fields, Directives: directives,
	})
}

func mergeEnumInto(dst *ast.Document, name string, values []*ast.EnumValueDefinition, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.EnumTypeDefinition); ok && existing.Name.String() == name {
			existing.Values = mergeEnumValueDefs(existing.Values, values)
			existing.Directives = append(existing.Directives, directives...)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.EnumTypeDefinition{
		Name: ast.Name(name), Values: values, Directives: directives,
	})
}

func mergeScalarInto(dst *ast.Document, name string, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.ScalarTypeDefinition); ok && existing.Name.String() == name {
			existing.Directives = append(existing.Directives, directives...)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.ScalarTypeDefinition{Name: ast.Name(name), Directives: directives})
}

func mergeUnionInto(dst *ast.Document, name string, types []*ast.NamedType, directives []*ast.Directive) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.UnionTypeDefinition); ok && existing.Name.String() == name {
			existing.Types = mergeNamedTypes(existing.Types, types)
			existing.Directives = append(existing.Directives, directives...)
			return
		}
	}
	dst.Definitions = append(dst.Definitions, &ast.UnionTypeDefinition{Name: ast.Name(name), Types: types, Directives: directives})
}

func mergeDirectiveDefInto(dst *ast.Document, newDef *ast.DirectiveDefinition) {
	for _, def := range dst.Definitions {
		if existing, ok := def.(*ast.DirectiveDefinition); ok && existing.Name.String() == newDef.Name.String() {
			return
		}
	}
	dst.Definitions = append(dst.Definitions, newDef)
}

func copyFieldDefs(fields []*ast.FieldDefinition) []*ast.FieldDefinition {
	if fields == nil {
		return nil
	}
	out := make([]*ast.FieldDefinition, len(fields))
	for i, f := range fields {
		out[i] = &ast.FieldDefinition{
			Name:       f.Name,
			Arguments:  f.Arguments,
			Type:       f.Type,
			Directives: copyDirectiveList(f.Directives),
		}
	}
	return out
}

func copyInputValueDefs(fields []*ast.InputValueDefinition) []*ast.InputValueDefinition {
	if fields == nil {
		return nil
	}
	out := make([]*ast.InputValueDefinition, len(fields))
	for i, f := range fields {
		out[i] = &ast.InputValueDefinition{
			Name:         f.Name,
			Type:         f.Type,
			DefaultValue: f.DefaultValue,
			Directives:   copyDirectiveList(f.Directives),
		}
	}
	return out
}

func copyDirectiveList(directives []*ast.Directive) []*ast.Directive {
	if directives == nil {
		return nil
	}
	out := make([]*ast.Directive, len(directives))
	for i, d := range directives {
		out[i] = &ast.Directive{Name: d.Name, Arguments: d.Arguments}
	}
	return out
}

func mergeFieldDefs(existing, incoming []*ast.FieldDefinition) []*ast.FieldDefinition {
	seen := make(map[string]bool, len(existing))
	out := make([]*ast.FieldDefinition, 0, len(existing)+len(incoming))
	for _, f := range existing {
		out = append(out, f)
		seen[f.Name.String()] = true
	}
	for _, f := range incoming {
		if seen[f.Name.String()] {
			continue
		}
		seen[f.Name.String()] = true
		out = append(out, f)
	}
	return out
}

func mergeInputValueDefs(existing, incoming []*ast.InputValueDefinition) []*ast.InputValueDefinition {
	seen := make(map[string]bool, len(existing))
	out := make([]*ast.InputValueDefinition, 0, len(existing)+len(incoming))
	for _, f := range existing {
		out = append(out, f)
		seen[f.Name.String()] = true
	}
	for _, f := range incoming {
		if seen[f.Name.String()] {
			continue
		}
		seen[f.Name.String()] = true
		out = append(out, f)
	}
	return out
}

func mergeEnumValueDefs(existing, incoming []*ast.EnumValueDefinition) []*ast.EnumValueDefinition {
	seen := make(map[string]bool, len(existing))
	out := make([]*ast.EnumValueDefinition, 0, len(existing)+len(incoming))
	for _, v := range existing {
		out = append(out, v)
		seen[v.Name.String()] = true
	}
	for _, v := range incoming {
		if seen[v.Name.String()] {
			continue
		}
		seen[v.Name.String()] = true
		out = append(out, v)
	}
	return out
}

func mergeNamedTypes(existing, incoming []*ast.NamedType) []*ast.NamedType {
	seen := make(map[string]bool, len(existing))
	out := make([]*ast.NamedType, 0, len(existing)+len(incoming))
	for _, t := range existing {
		out = append(out, t)
		seen[t.Name.String()] = true
	}
	for _, t := range incoming {
		if seen[t.Name.String()] {
			continue
		}
		seen[t.Name.String()] = true
		out = append(out, t)
	}
	return out
}
