package planner_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/federated-graph/gwcore/federation/planner"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

func buildTestSupergraph(t *testing.T) *graph.Supergraph {
	t.Helper()

	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}

		type Query {
			product(id: ID!): Product
		}
	`
	reviewSchema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			reviews: [Review!]!
		}

		type Review {
			id: ID!
			comment: String!
		}
	`

	productSG, err := graph.NewSubGraph("product", []byte(productSchema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph product: %v", err)
	}
	reviewSG, err := graph.NewSubGraph("review", []byte(reviewSchema), "http://review.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph review: %v", err)
	}

	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{productSG, reviewSG})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return sg
}

func parseOperation(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse operation: %v", errs)
	}
	return doc
}

func TestPlanner_SingleSubgraphQuery(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name } }`)

	result, err := pt.PlanFetchGraph(doc, nil, planner.Options{})
	if err != nil {
		t.Fatalf("PlanFetchGraph: %v", err)
	}
	if len(result.Graph.Nodes) == 0 {
		t.Fatal("expected at least one fetch node")
	}
	if result.Graph.Nodes[0].SubGraph != "product" {
		t.Errorf("expected root fetch routed to product, got %q", result.Graph.Nodes[0].SubGraph)
	}
}

func TestPlanner_CrossSubgraphEntityFetch(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name reviews { id comment } } }`)

	result, err := pt.PlanFetchGraph(doc, nil, planner.Options{})
	if err != nil {
		t.Fatalf("PlanFetchGraph: %v", err)
	}

	var sawReviewFetch bool
	for _, n := range result.Graph.Nodes {
		if n.SubGraph == "review" {
			sawReviewFetch = true
		}
	}
	if !sawReviewFetch {
		t.Error("expected a fetch routed to the review subgraph for Product.reviews")
	}

	plan, err := result.Graph.Lower()
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a non-nil plan")
	}
}

func TestPlanner_UnknownFieldIsUnsatisfiable(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { doesNotExist }`)

	_, err := pt.PlanFetchGraph(doc, nil, planner.Options{})
	if err == nil {
		t.Fatal("expected an Unsatisfiable error for an unresolvable root field")
	}
	if _, ok := err.(*planner.Unsatisfiable); !ok {
		t.Errorf("expected *planner.Unsatisfiable, got %T", err)
	}
}

func TestPlanner_UnsatisfiableKeyConditionSkipsEntityStep(t *testing.T) {
	productSchema := `
		type Product @key(fields: "sku") {
			id: ID!
			sku: String! @external
			name: String!
		}

		type Query {
			product(id: ID!): Product
		}
	`
	reviewSchema := `
		extend type Product @key(fields: "sku") {
			sku: String! @external
			reviews: [Review!]!
		}

		type Review {
			id: ID!
			comment: String!
		}
	`

	productSG, err := graph.NewSubGraph("product", []byte(productSchema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph product: %v", err)
	}
	reviewSG, err := graph.NewSubGraph("review", []byte(reviewSchema), "http://review.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph review: %v", err)
	}

	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{productSG, reviewSG})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	pt := planner.New(sg)
	doc := parseOperation(t, `query { product(id: "1") { id name reviews { id comment } } }`)

	result, err := pt.PlanFetchGraph(doc, nil, planner.Options{})
	if err != nil {
		t.Fatalf("PlanFetchGraph: %v", err)
	}

	for _, n := range result.Graph.Nodes {
		if n.SubGraph == "review" {
			t.Error("expected no entity fetch into review: its key field \"sku\" is @external in every subgraph, so the boundary jump is unreachable and ConditionResolver should have pruned it")
		}
	}
}

func TestPlanner_SingleSubgraphQueryShapesAsOneFetch(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name } }`)

	result, err := pt.PlanFetchGraph(doc, nil, planner.Options{})
	if err != nil {
		t.Fatalf("PlanFetchGraph: %v", err)
	}
	plan, err := result.Graph.Lower()
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}

	want := &planner.PlanNode{
		Kind: planner.NodeFetch,
		Fetch: &planner.FetchNode{
			SubGraph:      "product",
			OperationType: "query",
			ParentType:    "Query",
		},
	}

	ignores := []cmp.Option{
		cmpopts.IgnoreFields(planner.FetchNode{}, "ID", "SelectionSet", "VariableUsages", "IsEntityFetch", "RepresentationsOf", "ResponsePath"),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(want, plan, ignores...); diff != "" {
		t.Errorf("Lower() mismatch (-want +got):\n%s", diff)
	}
}

func buildShareableFieldSupergraph(t *testing.T) *graph.Supergraph {
	t.Helper()

	aSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String! @shareable
		}

		type Query {
			product(id: ID!): Product
		}
	`
	bSchema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			name: String! @shareable
		}
	`

	aSG, err := graph.NewSubGraph("a", []byte(aSchema), "http://a.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph a: %v", err)
	}
	bSG, err := graph.NewSubGraph("b", []byte(bSchema), "http://b.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph b: %v", err)
	}

	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{aSG, bSG})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return sg
}

func TestPlanner_PathsLimitExceededFailsPlan(t *testing.T) {
	sg := buildShareableFieldSupergraph(t)
	if owners := sg.GetSubGraphsForField("Product", "name"); len(owners) < 2 {
		t.Fatalf("test fixture must expose Product.name as resolvable by 2+ subgraphs, got %v", owners)
	}
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name } }`)

	_, err := pt.PlanFetchGraph(doc, nil, planner.Options{PathsLimit: 1})
	if err == nil {
		t.Fatal("expected PlanFetchGraph to fail when a field's fan-out exceeds paths_limit")
	}
	if _, ok := err.(*planner.Unsatisfiable); !ok {
		t.Errorf("expected *planner.Unsatisfiable, got %T", err)
	}

	if _, err := pt.PlanFetchGraph(doc, nil, planner.Options{PathsLimit: 0}); err != nil {
		t.Fatalf("PlanFetchGraph with paths_limit disabled: %v", err)
	}
	if _, err := pt.PlanFetchGraph(doc, nil, planner.Options{PathsLimit: 2}); err != nil {
		t.Fatalf("PlanFetchGraph with a generous paths_limit: %v", err)
	}
}

func TestPlanner_MaxEvaluatedPlansHitRecordsHint(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name reviews { id comment } } }`)

	result, err := pt.PlanFetchGraph(doc, nil, planner.Options{MaxEvaluatedPlans: 1})
	if err != nil {
		t.Fatalf("PlanFetchGraph: %v", err)
	}

	found := false
	for _, h := range result.Hints {
		if h == "plans-limit-reached" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Hints to contain \"plans-limit-reached\" when max_evaluated_plans is exceeded, got %v", result.Hints)
	}
}

func TestPlanner_CancellationStopsPlanning(t *testing.T) {
	sg := buildTestSupergraph(t)
	pt := planner.New(sg)

	doc := parseOperation(t, `query { product(id: "1") { id name reviews { id comment } } }`)

	_, err := pt.PlanFetchGraph(doc, nil, planner.Options{
		CheckCancellation: func() bool { return true },
	})
	if err == nil {
		t.Fatal("expected planning to stop on an already-cancelled check")
	}
	unsat, ok := err.(*planner.Unsatisfiable)
	if !ok || !unsat.Cancelled {
		t.Errorf("expected a cancelled Unsatisfiable, got %#v", err)
	}
}
