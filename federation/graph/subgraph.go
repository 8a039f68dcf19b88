package graph

import (
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// TypeKind classifies a type definition the way the composer needs to merge it.
type TypeKind int

const (
	KindObject TypeKind = iota
	KindInterface
	KindUnion
	KindEnum
	KindInput
	KindScalar
)

// EntityKey is one @key(fields, resolvable) declaration on a type.
type EntityKey struct {
	FieldSet   string
	Resolvable bool
}

// FieldMeta carries every federation directive recognized on a field.
type FieldMeta struct {
	Name            string
	Type            ast.Type
	Requires        []string
	Provides        []string
	External        bool
	Shareable       bool
	Inaccessible    bool
	OverrideFrom    string
	OverrideLabel   string
	FromContextName string // @fromContext(field:) selection, lowering TODO (see DESIGN.md)
	Arguments       []*ast.InputValueDefinition
}

// GetOverride returns override information when @override is present.
func (f *FieldMeta) GetOverride() (from, label string, ok bool) {
	if f.OverrideFrom == "" {
		return "", "", false
	}
	return f.OverrideFrom, f.OverrideLabel, true
}

// TypeMeta is a subgraph's view of one named type, with federation metadata
// attached. A type may appear as both a base definition and an extension
// across subgraphs; IsExtension records which this particular subgraph used.
type TypeMeta struct {
	Name            string
	Kind            TypeKind
	IsExtension     bool
	Keys            []EntityKey
	Interfaces      []string
	UnionMembers    []string
	EnumValues      []string
	Fields          map[string]*FieldMeta
	Inaccessible    bool
	InterfaceObject bool
	ContextName     string // @context(name:), present on types used by @fromContext
}

// IsResolvable reports whether at least one @key on this type is resolvable.
func (t *TypeMeta) IsResolvable() bool {
	if len(t.Keys) == 0 {
		return false
	}
	for _, k := range t.Keys {
		if k.Resolvable {
			return true
		}
	}
	return false
}

// IsEntity reports whether the type carries at least one @key.
func (t *TypeMeta) IsEntity() bool {
	return len(t.Keys) > 0
}

// SubGraph is one validated, federation-annotated backend schema.
type SubGraph struct {
	Name   string
	Host   string
	Schema *SchemaModel
	Types  map[string]*TypeMeta
}

// NewSubGraph parses src and extracts federation directive metadata for every
// type definition/extension it contains.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	schema, err := ParseSchema(src)
	if err != nil {
		return nil, err
	}

	sg := &SubGraph{
		Name:   name,
		Host:   host,
		Schema: schema,
		Types:  make(map[string]*TypeMeta),
	}

	for _, def := range schema.Document.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			sg.addObject(d.Name.String(), d.Interfaces, d.Fields, d.Directives, false)
		case *ast.ObjectTypeExtension:
			sg.addObject(d.Name.String(), d.Interfaces, d.Fields, d.Directives, true)
		case *ast.InterfaceTypeDefinition:
			sg.addInterface(d.Name.String(), d.Fields, d.Directives, false)
		case *ast.UnionTypeDefinition:
			sg.addUnion(d.Name.String(), d.Types, d.Directives)
		case *ast.EnumTypeDefinition:
			sg.addEnum(d.Name.String(), d.Values, d.Directives)
		case *ast.InputObjectTypeDefinition:
			sg.addInput(d.Name.String(), d.Fields, d.Directives)
		case *ast.ScalarTypeDefinition:
			sg.Types[d.Name.String()] = &TypeMeta{Name: d.Name.String(), Kind: KindScalar}
		}
	}

	return sg, nil
}

func (sg *SubGraph) typeMeta(name string, kind TypeKind) *TypeMeta {
	t, ok := sg.Types[name]
	if !ok {
		t = &TypeMeta{Name: name, Kind: kind, Fields: make(map[string]*FieldMeta)}
		sg.Types[name] = t
	}
	return t
}

func (sg *SubGraph) addObject(name string, interfaces []*ast.NamedType, fields []*ast.FieldDefinition, directives []*ast.Directive, isExt bool) {
	t := sg.typeMeta(name, KindObject)
	t.IsExtension = t.IsExtension || isExt
	for _, iface := range interfaces {
		t.Interfaces = append(t.Interfaces, iface.Name.String())
	}
	applyTypeDirectives(t, directives)
	for _, f := range fields {
		t.Fields[f.Name.String()] = parseFieldMeta(f)
	}
}

func (sg *SubGraph) addInterface(name string, fields []*ast.FieldDefinition, directives []*ast.Directive, isExt bool) {
	t := sg.typeMeta(name, KindInterface)
	t.IsExtension = t.IsExtension || isExt
	applyTypeDirectives(t, directives)
	for _, f := range fields {
		t.Fields[f.Name.String()] = parseFieldMeta(f)
	}
}

func (sg *SubGraph) addUnion(name string, members []*ast.NamedType, directives []*ast.Directive) {
	t := sg.typeMeta(name, KindUnion)
	for _, m := range members {
		t.UnionMembers = append(t.UnionMembers, m.Name.String())
	}
	applyTypeDirectives(t, directives)
}

func (sg *SubGraph) addEnum(name string, values []*ast.EnumValueDefinition, directives []*ast.Directive) {
	t := sg.typeMeta(name, KindEnum)
	for _, v := range values {
		t.EnumValues = append(t.EnumValues, v.Name.String())
	}
	applyTypeDirectives(t, directives)
}

func (sg *SubGraph) addInput(name string, fields []*ast.InputValueDefinition, directives []*ast.Directive) {
	t := sg.typeMeta(name, KindInput)
	applyTypeDirectives(t, directives)
	for _, f := range fields {
		t.Fields[f.Name.String()] = &FieldMeta{Name: f.Name.String(), Type: f.Type}
	}
}

func applyTypeDirectives(t *TypeMeta, directives []*ast.Directive) {
	for _, d := range directives {
		switch d.Name {
		case "key":
			key := EntityKey{Resolvable: true}
			if fields, ok := stringArgument(d, "fields"); ok {
				key.FieldSet = fields
			}
			key.Resolvable = boolArgument(d, "resolvable", true)
			t.Keys = append(t.Keys, key)
		case "inaccessible":
			t.Inaccessible = true
		case "interfaceObject":
			t.InterfaceObject = true
		case "context":
			if name, ok := stringArgument(d, "name"); ok {
				t.ContextName = name
			}
		}
	}
}

func parseFieldMeta(field *ast.FieldDefinition) *FieldMeta {
	f := &FieldMeta{
		Name:      field.Name.String(),
		Type:      field.Type,
		Arguments: field.Arguments,
	}

	for _, d := range field.Directives {
		switch d.Name {
		case "requires":
			if v, ok := stringArgument(d, "fields"); ok {
				f.Requires = strings.Fields(v)
			}
		case "provides":
			if v, ok := stringArgument(d, "fields"); ok {
				f.Provides = strings.Fields(v)
			}
		case "external":
			f.External = true
		case "shareable":
			f.Shareable = true
		case "inaccessible":
			f.Inaccessible = true
		case "override":
			if from, ok := stringArgument(d, "from"); ok {
				f.OverrideFrom = from
			}
			if label, ok := stringArgument(d, "label"); ok {
				f.OverrideLabel = label
			}
		case "fromContext":
			if v, ok := stringArgument(d, "field"); ok {
				f.FromContextName = v
			}
		}
	}

	return f
}

// GetEntity returns the type metadata for name if it is an entity (has @key).
func (sg *SubGraph) GetEntity(name string) (*TypeMeta, bool) {
	t, ok := sg.Types[name]
	if !ok || !t.IsEntity() {
		return nil, false
	}
	return t, true
}

// GetType returns the type metadata for name regardless of entity-ness.
func (sg *SubGraph) GetType(name string) (*TypeMeta, bool) {
	t, ok := sg.Types[name]
	return t, ok
}

// ResolvesField reports whether this subgraph can resolve typeName.fieldName
// (the field is declared here and is not @external).
func (sg *SubGraph) ResolvesField(typeName, fieldName string) bool {
	t, ok := sg.Types[typeName]
	if !ok {
		return false
	}
	f, ok := t.Fields[fieldName]
	if !ok {
		return false
	}
	return !f.External
}
