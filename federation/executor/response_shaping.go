package executor

import (
	"fmt"
	"math"

	"github.com/n9te9/graphql-parser/ast"
)

// ValueCompletionError is one type-coercion or null-propagation failure
// recorded during response shaping and surfaced back to the client under
// the response's "extensions.valueCompletion" key.
type ValueCompletionError struct {
	Message string
	Path    []any
	Code    string // always "RESPONSE_VALIDATION_FAILED"
}

// ShapeResult is the outcome of shaping one response: the cleaned data tree,
// any propagation/coercion errors, and whether the root itself went null.
type ShapeResult struct {
	Data            any
	Errors          []GraphQLError
	ValueCompletion []ValueCompletionError
	RootIsNull      bool
}

// Shaper walks a raw, merged response against the client's original
// selection set and produces a cleaned response. It never fails: the worst
// case is a fully-nulled data tree with errors describing why, preferring a
// partial response over a hard failure.
type Shaper struct {
	fragments map[string]*ast.FragmentDefinition
	variables map[string]any
}

// NewShaper builds a Shaper over the fragments declared in doc and the
// variables bound for this request.
func NewShaper(doc *ast.Document, variables map[string]any) *Shaper {
	fragments := make(map[string]*ast.FragmentDefinition)
	if doc != nil {
		for _, def := range doc.Definitions {
			if f, ok := def.(*ast.FragmentDefinition); ok {
				fragments[f.Name.String()] = f
			}
		}
	}
	return &Shaper{fragments: fragments, variables: variables}
}

// Shape cleans data (a map[string]any or nil) against selections rooted at
// rootTypeName.
func (s *Shaper) Shape(data any, selections []ast.Selection, rootTypeName string) *ShapeResult {
	result := &ShapeResult{}
	shaped, isNull := s.shapeValue(data, selections, rootTypeName, []any{}, false, result)
	result.Data = shaped
	result.RootIsNull = isNull
	return result
}

// shapeValue shapes one value (object, list, or leaf) at path, returning the
// shaped value and whether it resolved to null. elemNonNull carries whether
// the immediately enclosing list's element type is non-null, so a list of
// non-null elements can be nulled out as a whole the moment one element
// completes to null, mirroring how a non-null field nulls its parent object.
func (s *Shaper) shapeValue(value any, selections []ast.Selection, typeName string, path []any, elemNonNull bool, result *ShapeResult) (any, bool) {
	if value == nil {
		return nil, true
	}

	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		violated := false
		for i, elem := range v {
			elemPath := append(append([]any{}, path...), i)
			shaped, isNull := s.shapeValue(elem, selections, typeName, elemPath, false, result)
			out[i] = shaped
			if isNull && elemNonNull {
				result.ValueCompletion = append(result.ValueCompletion, ValueCompletionError{
					Message: "Cannot return null for non-nullable list element at index " + fmt.Sprint(i),
					Path:    elemPath,
					Code:    "RESPONSE_VALIDATION_FAILED",
				})
				violated = true
			}
		}
		if violated {
			return nil, true
		}
		return out, false

	case map[string]any:
		return s.shapeObject(v, selections, typeName, path, result)

	default:
		return value, false
	}
}

func (s *Shaper) shapeObject(obj map[string]any, selections []ast.Selection, typeName string, path []any, result *ShapeResult) (any, bool) {
	if typename, ok := obj["__typename"].(string); ok && typename != "" {
		typeName = typename
	}

	out := make(map[string]any)
	anyNonNullViolation := false

	for _, sel := range s.expandFragments(selections, typeName) {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if !s.included(field.Directives) {
			continue
		}

		fieldName := field.Name.String()
		lookupKey := fieldName
		if field.Alias != nil && field.Alias.String() != "" {
			lookupKey = field.Alias.String()
		}

		rawValue, exists := obj[fieldName]
		if !exists && lookupKey != fieldName {
			rawValue, exists = obj[lookupKey]
		}
		fieldPath := append(append([]any{}, path...), lookupKey)

		var shaped any
		var isNull bool
		if !exists {
			isNull = true
		} else if len(field.SelectionSet) > 0 {
			childType := ""
			shaped, isNull = s.shapeValue(rawValue, field.SelectionSet, childType, fieldPath, s.isNonNullListElement(field), result)
		} else {
			shaped, isNull = s.coerceLeaf(rawValue, fieldPath, result)
		}

		if isNull && s.isNonNullField(field) {
			result.ValueCompletion = append(result.ValueCompletion, ValueCompletionError{
				Message: "Cannot return null for non-nullable field " + typeName + "." + fieldName,
				Path:    fieldPath,
				Code:    "RESPONSE_VALIDATION_FAILED",
			})
			anyNonNullViolation = true
		}
		out[lookupKey] = shaped
	}

	if anyNonNullViolation {
		return nil, true
	}
	return out, false
}

// isNonNullField reports whether field carries an explicit @nonnull marker
// in the selection set being shaped. Nullability is not looked up in the
// schema, and nothing in the planner or query builder adds this directive,
// so a field without it is treated as nullable.
func (s *Shaper) isNonNullField(field *ast.Field) bool {
	for _, d := range field.Directives {
		if d.Name == "nonnull" {
			return true
		}
	}
	return false
}

// isNonNullListElement reports whether field's list element type is marked
// non-null via the "nonnullElement" directive convention, the list-typed
// counterpart to isNonNullField.
func (s *Shaper) isNonNullListElement(field *ast.Field) bool {
	for _, d := range field.Directives {
		if d.Name == "nonnullElement" {
			return true
		}
	}
	return false
}

func (s *Shaper) coerceLeaf(value any, path []any, result *ShapeResult) (any, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			result.ValueCompletion = append(result.ValueCompletion, ValueCompletionError{
				Message: "Float value is not finite",
				Path:    path,
				Code:    "RESPONSE_VALIDATION_FAILED",
			})
			return nil, true
		}
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return v, false
		}
		return v, false
	case int, int32, int64, string, bool, nil:
		return v, v == nil
	default:
		return v, false
	}
}

func (s *Shaper) included(directives []*ast.Directive) bool {
	for _, d := range directives {
		switch d.Name {
		case "skip":
			if s.boolDirectiveArg(d) {
				return false
			}
		case "include":
			if !s.boolDirectiveArg(d) {
				return false
			}
		}
	}
	return true
}

func (s *Shaper) boolDirectiveArg(d *ast.Directive) bool {
	for _, arg := range d.Arguments {
		if arg.Name.String() != "if" {
			continue
		}
		switch val := arg.Value.(type) {
		case *ast.BooleanValue:
			return val.Value
		case *ast.Variable:
			if bound, ok := s.variables[val.Name]; ok {
				if b, ok := bound.(bool); ok {
					return b
				}
			}
		}
	}
	return false
}

// expandFragments flattens fragment spreads/inline fragments applicable to
// typeName into plain fields, dispatching on runtime __typename for abstract
// types.
func (s *Shaper) expandFragments(selections []ast.Selection, typeName string) []ast.Selection {
	var out []ast.Selection
	for _, sel := range selections {
		switch sl := sel.(type) {
		case *ast.Field:
			out = append(out, sl)
		case *ast.InlineFragment:
			if sl.TypeCondition == nil || sl.TypeCondition.Name.String() == typeName || typeName == "" {
				out = append(out, s.expandFragments(sl.SelectionSet, typeName)...)
			}
		case *ast.FragmentSpread:
			if frag, ok := s.fragments[sl.Name.String()]; ok {
				if frag.TypeCondition == nil || frag.TypeCondition.Name.String() == typeName || typeName == "" {
					out = append(out, s.expandFragments(frag.SelectionSet, typeName)...)
				}
			}
		}
	}
	return out
}
