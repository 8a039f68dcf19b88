package graph

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// SchemaID is a 256-bit content hash of a schema document, folded into four
// 64-bit FNV-1a lanes, each seeded with its lane index, so the result is stable for
// a given source text. It is used as a planning-cache key component; it is
// not cryptographically meaningful.
type SchemaID [32]byte

// String renders the id as lowercase hex, as it appears in cache keys.
func (id SchemaID) String() string {
	return hex.EncodeToString(id[:])
}

func computeSchemaID(src []byte) SchemaID {
	var id SchemaID
	for lane := 0; lane < 4; lane++ {
		h := fnv.New64a()
		h.Write([]byte{byte(lane)})
		h.Write(src)
		sum := h.Sum64()
		for i := 0; i < 8; i++ {
			id[lane*8+i] = byte(sum >> (8 * i))
		}
	}
	return id
}

// SchemaModel is a parsed GraphQL schema document together with its content
// hash. Subgraph schemas and the composed supergraph schema are both
// SchemaModels; the supergraph additionally carries join__* metadata, kept on
// Supergraph rather than here so SchemaModel stays collaborator-agnostic.
type SchemaModel struct {
	Document *ast.Document
	SDL      string
	ID       SchemaID
}

// ParseSchema parses src as a GraphQL type system document.
func ParseSchema(src []byte) (*SchemaModel, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, &ParseError{Errors: errs}
	}

	return &SchemaModel{
		Document: doc,
		SDL:      string(src),
		ID:       computeSchemaID(src),
	}, nil
}

// ParseError wraps the parser's accumulated syntax errors.
type ParseError struct {
	Errors []error
}

func (e *ParseError) Error() string {
	if len(e.Errors) == 0 {
		return "parse error"
	}
	msg := e.Errors[0].Error()
	for _, err := range e.Errors[1:] {
		msg += "; " + err.Error()
	}
	return msg
}

// namedTypeName unwraps NonNull/List wrappers down to the innermost named type.
func namedTypeName(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedTypeName(typ.Type)
	case *ast.NonNullType:
		return namedTypeName(typ.Type)
	default:
		return ""
	}
}

// findDirective returns the first directive named name, or nil.
func findDirective(directives []*ast.Directive, name string) *ast.Directive {
	for _, d := range directives {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func hasDirective(directives []*ast.Directive, name string) bool {
	return findDirective(directives, name) != nil
}

// stringArgument reads a string-valued (or bare identifier) directive argument,
// stripping surrounding quotes the way the subgraph SDL AST represents them.
func stringArgument(d *ast.Directive, name string) (string, bool) {
	for _, arg := range d.Arguments {
		if arg.Name.String() != name {
			continue
		}
		v := arg.Value.String()
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		return v, true
	}
	return "", false
}

func boolArgument(d *ast.Directive, name string, def bool) bool {
	for _, arg := range d.Arguments {
		if arg.Name.String() != name {
			continue
		}
		return arg.Value.String() == "true"
	}
	return def
}
