package planner

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// FetchStepType distinguishes a top-level root fetch from a fetch that
// resolves entities via `_entities`.
type FetchStepType int

const (
	StepRoot FetchStepType = iota
	StepEntity
)

// FetchGraphNode is one per-subgraph fetch.
type FetchGraphNode struct {
	ID            int
	SubGraph      string
	StepType      FetchStepType
	ParentType    string
	SelectionSet  []ast.Selection
	Path          []string
	DependsOn     []int
	InsertionPath []string
	DeferLabels   []string
}

// FetchDependencyGraph is the DAG the planner builds before lowering to a
// PlanNode tree.
type FetchDependencyGraph struct {
	Nodes            []*FetchGraphNode
	RootIndexes      []int
	OriginalDocument *ast.Document
	OperationType    string
}

func (g *FetchDependencyGraph) node(id int) *FetchGraphNode {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Optimize merges sibling fetches to the same subgraph sharing the same
// entity input, then eliminates fetches whose output is already subsumed by
// an earlier fetch. Hoisting shared representations to a common ancestor
// (collapsing two entity fetches against the same subgraph that currently
// sit under different parents but share every key field) is not done here;
// see DESIGN.md.
func (g *FetchDependencyGraph) Optimize() {
	g.mergeSiblings()
	g.eliminateSubsumed()
}

// mergeSiblings merges entity-step fetches that target the same subgraph,
// entity type, parent step and insertion path — these would otherwise
// issue duplicate `_entities` calls for the same representation.
func (g *FetchDependencyGraph) mergeSiblings() {
	type key struct {
		subgraph, parentType, insertion string
		dependsOn                       string
	}
	merged := make(map[key]*FetchGraphNode)
	var out []*FetchGraphNode

	for _, n := range g.Nodes {
		if n.StepType != StepEntity {
			out = append(out, n)
			continue
		}
		k := key{n.SubGraph, n.ParentType, strings.Join(n.InsertionPath, "."), intsKey(n.DependsOn)}
		if existing, ok := merged[k]; ok {
			existing.SelectionSet = mergeSelectionSets(existing.SelectionSet, n.SelectionSet)
			continue
		}
		merged[k] = n
		out = append(out, n)
	}

	g.Nodes = out
}

// eliminateSubsumed drops a fetch whose entire selection set is already
// covered by an earlier fetch to the same subgraph/parent/path.
func (g *FetchDependencyGraph) eliminateSubsumed() {
	var out []*FetchGraphNode
	for i, n := range g.Nodes {
		subsumed := false
		for j := 0; j < i; j++ {
			prior := g.Nodes[j]
			if prior.SubGraph == n.SubGraph && prior.ParentType == n.ParentType &&
				strings.Join(prior.InsertionPath, ".") == strings.Join(n.InsertionPath, ".") &&
				selectionSetSubsumes(prior.SelectionSet, n.SelectionSet) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out = append(out, n)
		}
	}
	g.Nodes = out
}

func intsKey(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", id)
	}
	return b.String()
}

func selectionSetSubsumes(outer, inner []ast.Selection) bool {
	have := make(map[string]bool, len(outer))
	for _, s := range outer {
		if f, ok := s.(*ast.Field); ok {
			have[f.Name.String()] = true
		}
	}
	for _, s := range inner {
		f, ok := s.(*ast.Field)
		if !ok {
			return false
		}
		if !have[f.Name.String()] {
			return false
		}
	}
	return true
}

func mergeSelectionSets(existing, incoming []ast.Selection) []ast.Selection {
	seen := make(map[string]bool, len(existing))
	out := make([]ast.Selection, 0, len(existing)+len(incoming))
	for _, s := range existing {
		out = append(out, s)
		if f, ok := s.(*ast.Field); ok {
			seen[f.Name.String()] = true
		}
	}
	for _, s := range incoming {
		if f, ok := s.(*ast.Field); ok {
			if seen[f.Name.String()] {
				continue
			}
			seen[f.Name.String()] = true
		}
		out = append(out, s)
	}
	return out
}

// Lower converts the optimized dependency graph into an executable PlanNode
// tree.
func (g *FetchDependencyGraph) Lower() (*PlanNode, error) {
	if g.OperationType == "subscription" {
		return g.lowerSubscription()
	}

	var roots []*PlanNode
	for _, idx := range g.RootIndexes {
		roots = append(roots, g.lowerNode(g.Nodes[idx]))
	}

	if g.OperationType == "mutation" {
		if len(roots) == 1 {
			return roots[0], nil
		}
		return &PlanNode{Kind: NodeSequence, Children: roots}, nil
	}

	if len(roots) == 1 {
		return roots[0], nil
	}
	return &PlanNode{Kind: NodeParallel, Children: roots}, nil
}

// lowerNode lowers n and, recursively, every fetch that depends on n,
// wrapping dependents in Sequence(n, Flatten(path, dependent)).
func (g *FetchDependencyGraph) lowerNode(n *FetchGraphNode) *PlanNode {
	fetch := &PlanNode{Kind: NodeFetch, Fetch: &FetchNode{
		ID:            n.ID,
		SubGraph:      n.SubGraph,
		OperationType: operationKindFor(n, g.OperationType),
		ParentType:    n.ParentType,
		IsEntityFetch: n.StepType == StepEntity,
		SelectionSet:  n.SelectionSet,
		ResponsePath:  n.InsertionPath,
	}}

	dependents := g.dependentsOf(n.ID)
	if len(dependents) == 0 {
		return fetch
	}

	children := make([]*PlanNode, 0, len(dependents))
	for _, d := range dependents {
		child := g.lowerNode(d)
		children = append(children, &PlanNode{Kind: NodeFlatten, FlattenPath: d.InsertionPath, FlattenChild: child})
	}

	if len(children) == 1 {
		return &PlanNode{Kind: NodeSequence, Children: []*PlanNode{fetch, children[0]}}
	}
	return &PlanNode{Kind: NodeSequence, Children: []*PlanNode{fetch, {Kind: NodeParallel, Children: children}}}
}

func operationKindFor(n *FetchGraphNode, rootOpType string) string {
	if n.StepType == StepEntity {
		return "query"
	}
	return rootOpType
}

func (g *FetchDependencyGraph) dependentsOf(id int) []*FetchGraphNode {
	var out []*FetchGraphNode
	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if dep == id {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// lowerSubscription implements subscription shape constraint:
// a single root Fetch at the subscription root, optionally followed by the
// remaining fetches as a Sequence.
func (g *FetchDependencyGraph) lowerSubscription() (*PlanNode, error) {
	if len(g.RootIndexes) != 1 {
		return nil, &ErrInvalidSubscription{Reason: "subscription operations must have exactly one root fetch"}
	}
	root := g.Nodes[g.RootIndexes[0]]
	primary := &FetchNode{
		ID: root.ID, SubGraph: root.SubGraph, OperationType: "subscription",
		ParentType: root.ParentType, SelectionSet: root.SelectionSet, ResponsePath: root.Path,
	}

	dependents := g.dependentsOf(root.ID)
	if len(dependents) == 0 {
		return &PlanNode{Kind: NodeSubscription, SubscriptionPrimary: primary}, nil
	}

	children := make([]*PlanNode, 0, len(dependents))
	for _, d := range dependents {
		child := g.lowerNode(d)
		children = append(children, &PlanNode{Kind: NodeFlatten, FlattenPath: d.InsertionPath, FlattenChild: child})
	}
	var rest *PlanNode
	if len(children) == 1 {
		rest = &PlanNode{Kind: NodeSequence, Children: children}
	} else {
		rest = &PlanNode{Kind: NodeSequence, Children: []*PlanNode{{Kind: NodeParallel, Children: children}}}
	}

	return &PlanNode{Kind: NodeSubscription, SubscriptionPrimary: primary, SubscriptionRest: rest}, nil
}
