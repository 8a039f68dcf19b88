// Package demandcontrol implements two cost-accounting strategies: a static
// pre-execution estimate used to reject or flag expensive operations, and
// an actual-cost counter accumulated during execution.
package demandcontrol

import (
	"fmt"

	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
)

// Mode selects whether an over-estimate rejects the request or is merely
// recorded.
type Mode int

const (
	ModeEnforce Mode = iota
	ModeMeasure
)

// ErrCostExceeded is returned by Estimate when the static estimate exceeds
// Config.Max under ModeEnforce.
type ErrCostExceeded struct {
	Estimated int
	Max       int
}

func (e *ErrCostExceeded) Error() string {
	return fmt.Sprintf("estimated cost %d exceeds maximum %d", e.Estimated, e.Max)
}

// ErrActualCostExceeded is surfaced when the actual cost counter overruns
// Config.Max mid-execution; the response stream is cut short.
type ErrActualCostExceeded struct {
	Actual int
	Max    int
}

func (e *ErrActualCostExceeded) Error() string {
	return "actual cost too expensive"
}

// Config configures the StaticEstimated strategy.
type Config struct {
	Mode     Mode
	Max      int
	ListSize int // default per-list multiplier when no @listSize directive is present
}

// Estimator computes the static cost upper bound for an operation against a
// supergraphweight/multiplier rules.
type Estimator struct {
	supergraph *graph.Supergraph
	config     Config
}

// NewEstimator builds an Estimator over sg with cfg.
func NewEstimator(sg *graph.Supergraph, cfg Config) *Estimator {
	if cfg.ListSize <= 0 {
		cfg.ListSize = 1
	}
	return &Estimator{supergraph: sg, config: cfg}
}

// Estimate walks selections rooted at rootTypeName and returns the static
// cost upper bound. If the estimate exceeds Config.Max under ModeEnforce, it
// returns ErrCostExceeded alongside the computed value.
func (est *Estimator) Estimate(selections []ast.Selection, rootTypeName string, isMutation bool) (int, error) {
	total := est.weighSelections(selections, rootTypeName)
	if isMutation {
		total += 10
	}

	if total > est.config.Max && est.config.Mode == ModeEnforce {
		return total, &ErrCostExceeded{Estimated: total, Max: est.config.Max}
	}
	return total, nil
}

func (est *Estimator) weighSelections(selections []ast.Selection, parentType string) int {
	total := 0
	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		total += est.weighField(field, parentType)
	}
	return total
}

func (est *Estimator) weighField(field *ast.Field, parentType string) int {
	fieldName := field.Name.String()
	if fieldName == "__typename" {
		return 0
	}

	def := est.fieldDefinition(parentType, fieldName)

	weight := 0
	isComposite := len(field.SelectionSet) > 0
	if isComposite {
		weight = 1
	}
	if def != nil {
		if w, ok := costDirectiveWeight(def.Directives); ok {
			weight = w
		}
	}

	argWeight := 0
	for _, arg := range field.Arguments {
		if def == nil {
			continue
		}
		for _, argDef := range def.Arguments {
			if argDef.Name.String() != arg.Name.String() {
				continue
			}
			if w, ok := costDirectiveWeight(argDef.Directives); ok {
				argWeight += w
			}
		}
	}

	multiplier := 1
	if def != nil && isListType(def.Type) {
		multiplier = est.listMultiplier(def.Directives, field)
	}

	subCost := 0
	if isComposite {
		childType := ""
		if def != nil {
			childType = namedTypeOf(def.Type)
		}
		subCost = est.weighSelections(field.SelectionSet, childType)
	}

	return argWeight + multiplier*(weight+subCost)
}

func (est *Estimator) fieldDefinition(parentType, fieldName string) *ast.FieldDefinition {
	for _, s := range est.supergraph.SubGraphs {
		if s.Schema == nil {
			continue
		}
		for _, def := range s.Schema.Document.Definitions {
			obj, ok := def.(*ast.ObjectTypeDefinition)
			if !ok || obj.Name.String() != parentType {
				continue
			}
			for _, f := range obj.Fields {
				if f.Name.String() == fieldName {
					return f
				}
			}
		}
	}
	return nil
}

func (est *Estimator) listMultiplier(directives []*ast.Directive, field *ast.Field) int {
	for _, d := range directives {
		if d.Name != "listSize" {
			continue
		}
		if assumed, ok := intArgument(d, "assumedSize"); ok {
			return assumed
		}
		if names, ok := stringListArgument(d, "slicingArguments"); ok {
			for _, argName := range names {
				for _, arg := range field.Arguments {
					if arg.Name.String() != argName {
						continue
					}
					if v, ok := intValueOf(arg.Value); ok {
						return v
					}
				}
			}
		}
	}
	return est.config.ListSize
}

func isListType(t ast.Type) bool {
	switch typ := t.(type) {
	case *ast.ListType:
		return true
	case *ast.NonNullType:
		return isListType(typ.Type)
	default:
		return false
	}
}

func namedTypeOf(t ast.Type) string {
	switch typ := t.(type) {
	case *ast.NamedType:
		return typ.Name.String()
	case *ast.ListType:
		return namedTypeOf(typ.Type)
	case *ast.NonNullType:
		return namedTypeOf(typ.Type)
	default:
		return ""
	}
}

func costDirectiveWeight(directives []*ast.Directive) (int, bool) {
	for _, d := range directives {
		if d.Name != "cost" {
			continue
		}
		if w, ok := intArgument(d, "weight"); ok {
			return w, true
		}
	}
	return 0, false
}

func intArgument(d *ast.Directive, name string) (int, bool) {
	for _, arg := range d.Arguments {
		if arg.Name.String() != name {
			continue
		}
		return intValueOf(arg.Value)
	}
	return 0, false
}

func intValueOf(v ast.Value) (int, bool) {
	if iv, ok := v.(*ast.IntValue); ok {
		return int(iv.Value), true
	}
	return 0, false
}

func stringListArgument(d *ast.Directive, name string) ([]string, bool) {
	for _, arg := range d.Arguments {
		if arg.Name.String() != name {
			continue
		}
		list, ok := arg.Value.(*ast.ListValue)
		if !ok {
			return nil, false
		}
		var out []string
		for _, item := range list.Values {
			if s, ok := item.(*ast.StringValue); ok {
				out = append(out, s.Value)
			}
		}
		return out, true
	}
	return nil, false
}

// Accountant accumulates actual cost during execution and enforces
// Config.Max against the running total.
type Accountant struct {
	config Config
	actual int
}

// NewAccountant builds an Accountant under cfg.
func NewAccountant(cfg Config) *Accountant {
	return &Accountant{config: cfg}
}

// Add records weight delivered to the client for one field/element. It
// returns ErrActualCostExceeded once the running total exceeds Config.Max
// under ModeEnforce, at which point the caller should cut the response
// stream short.
func (a *Accountant) Add(weight int) error {
	a.actual += weight
	if a.actual > a.config.Max && a.config.Mode == ModeEnforce {
		return &ErrActualCostExceeded{Actual: a.actual, Max: a.config.Max}
	}
	return nil
}

// Actual returns the running actual-cost total.
func (a *Accountant) Actual() int {
	return a.actual
}
