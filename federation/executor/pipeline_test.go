package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/federated-graph/gwcore/federation/executor"
	"github.com/federated-graph/gwcore/federation/graph"
	"github.com/federated-graph/gwcore/federation/planner"
	"github.com/goccy/go-json"
)

func newStubSubgraphServer(t *testing.T, response map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
}

func buildPipelineSupergraph(t *testing.T, productHost string) *graph.Supergraph {
	t.Helper()
	schema := `
		type Product {
			id: ID!
			name: String!
		}
		type Query {
			product(id: ID!): Product
		}
	`
	sub, err := graph.NewSubGraph("product", []byte(schema), productHost)
	if err != nil {
		t.Fatalf("NewSubGraph: %v", err)
	}
	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{sub})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return sg
}

func TestExecutionService_ExecuteSingleFetch(t *testing.T) {
	stub := newStubSubgraphServer(t, map[string]any{
		"data": map[string]any{"product": map[string]any{"id": "1", "name": "Widget"}},
	})
	defer stub.Close()

	sg := buildPipelineSupergraph(t, stub.URL)
	svc := executor.NewExecutionService(stub.Client(), sg)

	sel := parseSelectionSet(t, `query { product(id: "1") { id name } }`)
	plan := &planner.PlanNode{Kind: planner.NodeFetch, Fetch: &planner.FetchNode{
		SubGraph:      "product",
		OperationType: "query",
		ParentType:    "Query",
		SelectionSet:  sel,
	}}

	reqCtx := executor.NewContext("", "")
	data, errs := svc.Execute(context.Background(), reqCtx, plan, nil, nil)
	_ = errs
	product, ok := data["product"].(map[string]any)
	if !ok {
		t.Fatalf("expected product data, got %v", data)
	}
	if product["name"] != "Widget" {
		t.Errorf("expected name Widget, got %v", product["name"])
	}
}

func TestExecutionService_ExecuteSequenceMergesChildFetch(t *testing.T) {
	productStub := newStubSubgraphServer(t, map[string]any{
		"data": map[string]any{"product": map[string]any{"id": "1"}},
	})
	defer productStub.Close()

	sg := buildPipelineSupergraph(t, productStub.URL)
	svc := executor.NewExecutionService(http.DefaultClient, sg)

	sel := parseSelectionSet(t, `query { product(id: "1") { id name } }`)
	first := &planner.PlanNode{Kind: planner.NodeFetch, Fetch: &planner.FetchNode{SubGraph: "product", OperationType: "query", ParentType: "Query", SelectionSet: sel}}

	plan := &planner.PlanNode{Kind: planner.NodeSequence, Children: []*planner.PlanNode{first}}

	reqCtx := executor.NewContext("", "")
	data, _ := svc.Execute(context.Background(), reqCtx, plan, nil, nil)
	product, ok := data["product"].(map[string]any)
	if !ok {
		t.Fatalf("expected product data, got %v", data)
	}
	if product["id"] != "1" {
		t.Errorf("expected id 1, got %v", product["id"])
	}
}

func TestExecutionService_ConditionNodePicksBranch(t *testing.T) {
	stub := newStubSubgraphServer(t, map[string]any{
		"data": map[string]any{"product": map[string]any{"id": "1"}},
	})
	defer stub.Close()

	sg := buildPipelineSupergraph(t, stub.URL)
	svc := executor.NewExecutionService(stub.Client(), sg)

	sel := parseSelectionSet(t, `query { product(id: "1") { id } }`)
	ifBranch := &planner.PlanNode{Kind: planner.NodeFetch, Fetch: &planner.FetchNode{SubGraph: "product", OperationType: "query", ParentType: "Query", SelectionSet: sel}}
	elseBranch := &planner.PlanNode{Kind: planner.NodeSequence}

	plan := &planner.PlanNode{
		Kind:              planner.NodeCondition,
		ConditionVariable: "includeProduct",
		ConditionIf:       ifBranch,
		ConditionElse:     elseBranch,
	}

	reqCtx := executor.NewContext("", "")
	data, _ := svc.Execute(context.Background(), reqCtx, plan, nil, map[string]bool{"includeProduct": true})
	if _, ok := data["product"]; !ok {
		t.Errorf("expected the if-branch to run and populate product, got %v", data)
	}

	data, _ = svc.Execute(context.Background(), reqCtx, plan, nil, map[string]bool{"includeProduct": false})
	if _, ok := data["product"]; ok {
		t.Errorf("expected the else-branch to skip the fetch, got %v", data)
	}
}
