package planner

import "github.com/n9te9/graphql-parser/ast"

// PlanNodeKind tags the variant carried by a PlanNode
// "PlanNode tree". Go has no tagged-union sugar, so PlanNode is a single
// struct with a Kind discriminant and the fields relevant to that kind left
// zero otherwise — mirroring how StepV2/PlanV2 keep one flat
// struct rather than a node-type hierarchy.
type PlanNodeKind int

const (
	NodeFetch PlanNodeKind = iota
	NodeSequence
	NodeParallel
	NodeFlatten
	NodeDefer
	NodeCondition
	NodeSubscription
)

// FetchNode is the leaf unit of work: one operation sent to one subgraph.
type FetchNode struct {
	ID                int
	SubGraph          string
	OperationType     string // "query" | "mutation" | "subscription"
	ParentType        string
	IsEntityFetch     bool // true when this fetch resolves entities via `_entities`
	SelectionSet      []ast.Selection
	VariableUsages    []string
	RepresentationsOf []string // paths feeding the `representations` variable, for entity fetches
	ResponsePath      []string // prefix this fetch's output is merged under
}

// DeferredBlock is one branch of a Defer node.
type DeferredBlock struct {
	Label     string
	DependsOn []int
	Path      []string
	Node      *PlanNode
}

// PlanNode is one node of the executable plan tree.
type PlanNode struct {
	Kind PlanNodeKind

	Fetch *FetchNode // NodeFetch

	Children []*PlanNode // NodeSequence / NodeParallel

	FlattenPath  []string  // NodeFlatten
	FlattenChild *PlanNode // NodeFlatten

	DeferPrimary  *PlanNode       // NodeDefer
	DeferBlocks   []DeferredBlock // NodeDefer

	ConditionVariable string    // NodeCondition
	ConditionIf       *PlanNode // NodeCondition
	ConditionElse     *PlanNode // NodeCondition

	SubscriptionPrimary *FetchNode // NodeSubscription
	SubscriptionRest    *PlanNode  // NodeSubscription
}

// ErrInvalidSubscription is returned when a subscription plan cannot be
// shaped as Subscription{primary: single root Fetch, rest: Sequence}.
type ErrInvalidSubscription struct{ Reason string }

func (e *ErrInvalidSubscription) Error() string { return "invalid subscription plan: " + e.Reason }
