package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// Options configures one PlannerTraversal run.
type Options struct {
	MaxEvaluatedPlans  int // default 10000, must be >=1
	PathsLimit         int // 0 means unbounded
	OverrideConditions map[string]bool
	CheckCancellation  func() bool
}

func (o Options) maxEvaluatedPlans() int {
	if o.MaxEvaluatedPlans <= 0 {
		return 10000
	}
	return o.MaxEvaluatedPlans
}

// Unsatisfiable is returned when no valid plan exists.
type Unsatisfiable struct {
	Reason    string
	Cancelled bool
}

func (e *Unsatisfiable) Error() string {
	if e.Cancelled {
		return "planning cancelled"
	}
	return "unsatisfiable: " + e.Reason
}

// Result is the outcome of a successful PlannerTraversal.
type Result struct {
	Graph *FetchDependencyGraph
	Cost  int
	Hints []string
}

// PlannerTraversal performs per-top-level-selection planning over the
// supergraph's QueryGraph, producing a FetchDependencyGraph. Branch forking
// across multiple resolving subgraphs
// or multiple usable keys is resolved deterministically here (first owner,
// first resolvable key) rather than through exhaustive cost-ranked search;
// the QueryGraph/ConditionResolver are still consulted to validate that a
// chosen cross-subgraph jump is actually reachable before it is committed to
// the dependency graph (see DESIGN.md's Open Question decision on this).
type PlannerTraversal struct {
	Supergraph *graph.Supergraph
	QueryGraph *graph.QueryGraph
	Resolver   *graph.ConditionResolver
}

// New builds a PlannerTraversal over sg, constructing its QueryGraph and
// ConditionResolver.
func New(sg *graph.Supergraph) *PlannerTraversal {
	qg := graph.BuildFederated(sg)
	resolver := graph.NewConditionResolver(qg, pathExistsViaOwnership(sg))
	return &PlannerTraversal{Supergraph: sg, QueryGraph: qg, Resolver: resolver}
}

// pathExistsViaOwnership is the ConditionResolver's PathExists hook: a
// key/@requires condition selection set is satisfiable if every field it
// names is resolvable by some subgraph reachable from the edge's head node.
func pathExistsViaOwnership(sg *graph.Supergraph) graph.PathExists {
	return func(g *graph.QueryGraph, from graph.NodeIndex, selectionSet string, excludedDestinations map[string]bool, excludedConditions map[graph.EdgeIndex]bool) (bool, int) {
		head := g.Nodes[from]
		cost := 0
		for _, fieldName := range strings.Fields(selectionSet) {
			if head.Source != "" {
				sub, ok := sg.GetSubGraphByName(head.Source)
				if ok && sub.ResolvesField(head.TypeName, fieldName) {
					continue
				}
			}
			owners := sg.GetSubGraphsForField(head.TypeName, fieldName)
			if len(owners) == 0 {
				return false, 0
			}
			cost++
		}
		return true, cost
	}
}

// Plan produces a PlanNode for doc/variables, ready for execution
// (returning the FetchDependencyGraph+cost before lowering is exposed via
// PlanFetchGraph for callers, such as the cache, that want the pre-lowering
// form).
func (p *PlannerTraversal) Plan(doc *ast.Document, variables map[string]any, opts Options) (*PlanNode, error) {
	result, err := p.PlanFetchGraph(doc, variables, opts)
	if err != nil {
		return nil, err
	}
	return result.Graph.Lower()
}

// PlanFetchGraph runs the traversal and optimizations but stops short of
// lowering to a PlanNode tree.
func (p *PlannerTraversal) PlanFetchGraph(doc *ast.Document, variables map[string]any, opts Options) (*Result, error) {
	op := getOperation(doc)
	if op == nil {
		return nil, &Unsatisfiable{Reason: "no operation found in document"}
	}
	if len(op.SelectionSet) == 0 {
		return nil, &Unsatisfiable{Reason: "empty root selection set"}
	}

	rootTypeName, opType, err := rootTypeAndKind(op)
	if err != nil {
		return nil, &Unsatisfiable{Reason: err.Error()}
	}

	fragmentDefs := collectFragmentDefinitions(doc)
	expanded := expandFragments(op.SelectionSet, fragmentDefs)

	fdg := &FetchDependencyGraph{OriginalDocument: doc, OperationType: opType}
	nextID := 0
	cost := 0
	evaluated := 0
	plansLimitHit := false

	rootFieldsBySubGraph := make(map[string][]ast.Selection)
	var subGraphOrder []string
	for _, sel := range expanded {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		fieldName := field.Name.String()
		if isMetaField(fieldName) {
			continue
		}
		owners := p.Supergraph.GetSubGraphsForField(rootTypeName, fieldName)
		if len(owners) == 0 {
			return nil, &Unsatisfiable{Reason: fmt.Sprintf("no subgraph resolves %s.%s", rootTypeName, fieldName)}
		}
		if err := checkPathsLimit(opts, len(owners), rootTypeName+"."+fieldName); err != nil {
			return nil, err
		}
		owner := owners[0]
		if _, seen := rootFieldsBySubGraph[owner.Name]; !seen {
			subGraphOrder = append(subGraphOrder, owner.Name)
		}
		rootFieldsBySubGraph[owner.Name] = append(rootFieldsBySubGraph[owner.Name], sel)
	}

	if opType == "mutation" {
		// mutations plan each top-level selection serially
		var prevID *int
		for _, name := range subGraphOrder {
			if opts.CheckCancellation != nil && opts.CheckCancellation() {
				return nil, &Unsatisfiable{Cancelled: true}
			}
			evaluated++
			if evaluated > opts.maxEvaluatedPlans() {
				plansLimitHit = true
				break
			}
			selections := rootFieldsBySubGraph[name]
			node := &FetchGraphNode{ID: nextID, SubGraph: name, StepType: StepRoot, ParentType: rootTypeName, SelectionSet: selections, Path: []string{rootTypeName}}
			if prevID != nil {
				node.DependsOn = []int{*prevID}
			}
			fdg.Nodes = append(fdg.Nodes, node)
			fdg.RootIndexes = append(fdg.RootIndexes, len(fdg.Nodes)-1)
			id := nextID
			prevID = &id
			nextID++
			added, err := p.findAndBuildEntitySteps(selections, node, fdg, &nextID, rootTypeName, []string{rootTypeName}, fragmentDefs, opts, &evaluated, &plansLimitHit)
			if err != nil {
				return nil, err
			}
			cost += added
		}
	} else {
		for _, name := range subGraphOrder {
			if opts.CheckCancellation != nil && opts.CheckCancellation() {
				return nil, &Unsatisfiable{Cancelled: true}
			}
			evaluated++
			selections := rootFieldsBySubGraph[name]
			node := &FetchGraphNode{ID: nextID, SubGraph: name, StepType: StepRoot, ParentType: rootTypeName, SelectionSet: selections, Path: []string{rootTypeName}}
			fdg.Nodes = append(fdg.Nodes, node)
			fdg.RootIndexes = append(fdg.RootIndexes, len(fdg.Nodes)-1)
			nextID++
			added, err := p.findAndBuildEntitySteps(selections, node, fdg, &nextID, rootTypeName, []string{rootTypeName}, fragmentDefs, opts, &evaluated, &plansLimitHit)
			if err != nil {
				return nil, err
			}
			cost += 1 + added
		}
	}

	fdg.Optimize()

	result := &Result{Graph: fdg, Cost: cost}
	if plansLimitHit {
		result.Hints = append(result.Hints, "plans-limit-reached")
	}
	return result, nil
}

// checkPathsLimit enforces Options.PathsLimit: when more than PathsLimit
// subgraphs could resolve the same field, the planner cannot guarantee
// optimality by picking just the first one, so the plan fails outright
// rather than silently narrowing the search space.
func checkPathsLimit(opts Options, fanOut int, path string) error {
	if opts.PathsLimit > 0 && fanOut > opts.PathsLimit {
		return &Unsatisfiable{Reason: fmt.Sprintf("paths_limit exceeded: %d candidate subgraphs resolve %s, limit is %d", fanOut, path, opts.PathsLimit)}
	}
	return nil
}

func isMetaField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

// findAndBuildEntitySteps walks selections rooted at parentType/parentStep,
// creating entity-resolution fetches for every boundary field — fields
// resolved by a subgraph other than parentStep's — and injecting the target
// entity's key fields into the parent's selection set so the executor can
// build `_entities` representations. Adapted from the prior
// findAndBuildEntitySteps/injectKeyFieldsIntoParentStep pair, generalized to
// the FetchGraphNode model and with explicit cost accounting.
func (p *PlannerTraversal) findAndBuildEntitySteps(
	selections []ast.Selection,
	parentNode *FetchGraphNode,
	fdg *FetchDependencyGraph,
	nextID *int,
	parentType string,
	currentPath []string,
	fragmentDefs map[string]*ast.FragmentDefinition,
	opts Options,
	evaluated *int,
	plansLimitHit *bool,
) (int, error) {
	addedCost := 0
	entityStepsByKey := make(map[string]*FetchGraphNode)

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		fieldName := field.Name.String()
		if fieldName == "__typename" {
			continue
		}

		fieldType, err := p.fieldTypeName(parentType, fieldName)
		if err != nil {
			continue
		}

		fieldIdentifier := fieldName
		if field.Alias != nil && field.Alias.String() != "" {
			fieldIdentifier = field.Alias.String()
		}
		fieldPath := append(append([]string{}, currentPath...), fieldIdentifier)

		owners := p.Supergraph.GetSubGraphsForField(parentType, fieldName)
		if len(owners) == 0 {
			continue
		}
		if err := checkPathsLimit(opts, len(owners), parentType+"."+fieldName); err != nil {
			return 0, err
		}
		fieldOwner := owners[0]
		entityOwner := p.Supergraph.GetEntityOwnerSubGraph(fieldType)

		isBoundary := false
		target := fieldOwner
		if fieldOwner.Name != parentNode.SubGraph {
			isBoundary = true
		} else if entityOwner != nil && entityOwner.Name != parentNode.SubGraph {
			isBoundary = true
			target = entityOwner
		}

		if !isBoundary {
			if len(field.SelectionSet) > 0 {
				nested, err := p.findAndBuildEntitySteps(field.SelectionSet, parentNode, fdg, nextID, fieldType, fieldPath, fragmentDefs, opts, evaluated, plansLimitHit)
				if err != nil {
					return 0, err
				}
				addedCost += nested
			}
			continue
		}

		if opts.CheckCancellation != nil && opts.CheckCancellation() {
			continue
		}
		*evaluated++
		if *evaluated > opts.maxEvaluatedPlans() {
			*plansLimitHit = true
			continue
		}

		var entityType string
		_, parentExtendedInTarget := target.GetEntity(parentType)
		if parentExtendedInTarget {
			entityType = parentType
		} else {
			entityType = fieldType
		}

		if overrideLabel, overrideFrom, ok := p.overriddenAway(parentType, fieldName, target.Name); ok && !p.overrideAllows(opts, overrideLabel) {
			target = overrideFrom
		}

		isNestedEntity := entityOwner != nil && entityOwner.Name == target.Name

		if edgeIdx, ok := p.QueryGraph.FindKeyResolutionEdge(parentNode.SubGraph, entityType, target.Name, entityType); ok {
			outcome := p.Resolver.Resolve(edgeIdx, graph.OpGraphPathContext{Head: p.QueryGraph.Edges[edgeIdx].From}, nil, nil, 0)
			if !outcome.Satisfied {
				continue
			}
		}

		boundaryFieldPath := append(append([]string{}, currentPath...), fieldName)
		stepKey := fmt.Sprintf("%s:%s:%d:%s", target.Name, entityType, parentNode.ID, strings.Join(boundaryFieldPath, "."))

		if existing, ok := entityStepsByKey[stepKey]; ok {
			existing.SelectionSet = mergeSelectionSets(existing.SelectionSet, []ast.Selection{sel})
			continue
		}

		var entitySelections []ast.Selection
		var insertionPath []string
		if entityType == parentType {
			entitySelections = []ast.Selection{sel}
			insertionPath = currentPath
		} else {
			entitySelections = field.SelectionSet
			insertionPath = append(append([]string{}, currentPath...), fieldName)
		}

		newNode := &FetchGraphNode{
			ID: *nextID, SubGraph: target.Name, StepType: StepEntity, ParentType: entityType,
			SelectionSet: entitySelections, Path: fieldPath, DependsOn: []int{parentNode.ID}, InsertionPath: insertionPath,
		}
		fdg.Nodes = append(fdg.Nodes, newNode)
		entityStepsByKey[stepKey] = newNode
		*nextID++
		addedCost += 2 // cross-subgraph jump penalty

		relative := relativePath(parentNode.InsertionPath, currentPath)
		if isNestedEntity && entityType != parentType {
			relative = append(relative, fieldName)
		}
		p.injectKeyFields(parentNode, entityType, target, relative)

		if len(field.SelectionSet) > 0 {
			nestedParentType := entityType
			if entityType == parentType {
				nestedParentType = fieldType
			}
			nested, err := p.findAndBuildEntitySteps(field.SelectionSet, newNode, fdg, nextID, nestedParentType, fieldPath, fragmentDefs, opts, evaluated, plansLimitHit)
			if err != nil {
				return 0, err
			}
			addedCost += nested
		}
	}

	return addedCost, nil
}

func relativePath(parentInsertion, currentPath []string) []string {
	if len(parentInsertion) == 0 {
		if len(currentPath) > 0 {
			return append([]string{}, currentPath[1:]...)
		}
		return nil
	}
	if len(currentPath) < len(parentInsertion) {
		return nil
	}
	return append([]string{}, currentPath[len(parentInsertion):]...)
}

// overriddenAway reports whether typeName.fieldName was moved away from
// candidateGraph by an @override declared on some other subgraph.
func (p *PlannerTraversal) overriddenAway(typeName, fieldName, candidateGraph string) (label string, from *graph.SubGraph, ok bool) {
	for _, s := range p.Supergraph.SubGraphs {
		t, exists := s.Types[typeName]
		if !exists {
			continue
		}
		f, exists := t.Fields[fieldName]
		if !exists {
			continue
		}
		if fromGraph, lbl, hasOverride := f.GetOverride(); hasOverride && s.Name == candidateGraph {
			source, found := p.Supergraph.GetSubGraphByName(fromGraph)
			if found {
				return lbl, source, true
			}
		}
	}
	return "", nil, false
}

func (p *PlannerTraversal) overrideAllows(opts Options, label string) bool {
	if label == "" || opts.OverrideConditions == nil {
		return true
	}
	want, declared := opts.OverrideConditions[label]
	if !declared {
		return true
	}
	return want
}

func (p *PlannerTraversal) injectKeyFields(parentNode *FetchGraphNode, entityType string, target *graph.SubGraph, insertionPath []string) {
	if len(insertionPath) == 0 {
		return
	}
	keyFields := keyFieldsFor(entityType, target)
	parentNode.SelectionSet = ensureAndInjectKeyFields(parentNode.SelectionSet, insertionPath, keyFields)
}

func keyFieldsFor(typeName string, sg *graph.SubGraph) []string {
	t, ok := sg.GetEntity(typeName)
	if !ok || len(t.Keys) == 0 {
		return []string{"__typename"}
	}
	result := []string{"__typename"}
	result = append(result, strings.Fields(t.Keys[0].FieldSet)...)
	return result
}

func ensureAndInjectKeyFields(selections []ast.Selection, path []string, keyFields []string) []ast.Selection {
	if len(path) == 0 {
		return injectFields(selections, keyFields)
	}

	target := path[0]
	var targetField *ast.Field
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok {
			ident := f.Name.String()
			if f.Alias != nil && f.Alias.String() != "" {
				ident = f.Alias.String()
			}
			if ident == target {
				targetField = f
				break
			}
		}
	}
	if targetField == nil {
		targetField = &ast.Field{Name: newName(target)}
		selections = append(selections, targetField)
	}
	targetField.SelectionSet = ensureAndInjectKeyFields(targetField.SelectionSet, path[1:], keyFields)
	return selections
}

func injectFields(selections []ast.Selection, names []string) []ast.Selection {
	have := make(map[string]bool, len(selections))
	for _, sel := range selections {
		if f, ok := sel.(*ast.Field); ok {
			have[f.Name.String()] = true
		}
	}
	for _, name := range names {
		if have[name] {
			continue
		}
		selections = append(selections, &ast.Field{Name: newName(name)})
		have[name] = true
	}
	return selections
}

func newName(value string) *ast.Name {
	return &ast.Name{Token: token.Token{Type: token.IDENT, Literal: value}, Value: value}
}

func (p *PlannerTraversal) fieldTypeName(parentType, fieldName string) (string, error) {
	if fieldName == "__typename" {
		return "String", nil
	}
	for _, def := range p.Supergraph.Schema.Definitions {
		td, ok := def.(*ast.ObjectTypeDefinition)
		if !ok || td.Name.String() != parentType {
			continue
		}
		for _, f := range td.Fields {
			if f.Name.String() == fieldName {
				return namedTypeOf(f.Type), nil
			}
		}
	}
	return "", fmt.Errorf("field %s not found on type %s", fieldName, parentType)
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

func getOperation(doc *ast.Document) *ast.OperationDefinition {
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op
		}
	}
	return nil
}

func rootTypeAndKind(op *ast.OperationDefinition) (string, string, error) {
	switch op.Operation {
	case ast.Query:
		return "Query", "query", nil
	case ast.Mutation:
		return "Mutation", "mutation", nil
	case ast.Subscription:
		return "Subscription", "subscription", nil
	default:
		return "", "", errors.New("unknown operation type")
	}
}

func collectFragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	out := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if f, ok := def.(*ast.FragmentDefinition); ok {
			out[f.Name.String()] = f
		}
	}
	return out
}

func expandFragments(selections []ast.Selection, fragments map[string]*ast.FragmentDefinition) []ast.Selection {
	var out []ast.Selection
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.String()]; ok {
				out = append(out, expandFragments(frag.SelectionSet, fragments)...)
			}
		case *ast.InlineFragment:
			out = append(out, expandFragments(s.SelectionSet, fragments)...)
		default:
			out = append(out, sel)
		}
	}
	return out
}
