package graph_test

import (
	"testing"

	"github.com/federated-graph/gwcore/federation/graph"
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

func TestBuildFederated_HasSubgraphEnteringAndKeyResolution(t *testing.T) {
	sg := buildTestSupergraph(t)
	qg := graph.BuildFederated(sg)

	var sawEntering, sawKeyResolution, sawFieldCollection bool
	for _, e := range qg.Edges {
		switch e.Transition.Kind {
		case graph.TransitionSubgraphEntering:
			sawEntering = true
		case graph.TransitionKeyResolution:
			sawKeyResolution = true
		case graph.TransitionFieldCollection:
			sawFieldCollection = true
		}
	}

	if !sawEntering {
		t.Error("expected at least one SubgraphEnteringTransition edge")
	}
	if !sawKeyResolution {
		t.Error("expected at least one KeyResolution edge between product and review for Product")
	}
	if !sawFieldCollection {
		t.Error("expected at least one FieldCollection edge")
	}
}

func TestBuildFederated_FollowupsPruneSelfLoopKeyResolution(t *testing.T) {
	sg := buildTestSupergraph(t)
	qg := graph.BuildFederated(sg)

	for idx, e := range qg.Edges {
		if e.Transition.Kind != graph.TransitionKeyResolution {
			continue
		}
		for _, followIdx := range qg.Followups(graph.EdgeIndex(idx)) {
			follow := qg.Edges[followIdx]
			if follow.From == follow.To && (follow.Transition.Kind == graph.TransitionKeyResolution || follow.Transition.Kind == graph.TransitionRootTypeResolution) {
				t.Errorf("expected self-loop key/root edges to be pruned from followups")
			}
		}
	}
}
