package graph_test

import (
	"strings"
	"testing"

	"github.com/federated-graph/gwcore/federation/graph"
)

func TestComposerMerge(t *testing.T) {
	productSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
			price: Float!
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
			rating: Int!
			comment: String!
		}

		extend type Query {
			review(id: ID!): Review
		}
	`

	productSG, err := graph.NewSubGraph("product", []byte(productSchema), "http://product.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed for product: %v", err)
	}

	reviewSG, err := graph.NewSubGraph("review", []byte(reviewSchema), "http://review.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph failed for review: %v", err)
	}

	sg, hints, err := (graph.Composer{}).Merge([]*graph.SubGraph{reviewSG, productSG})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(hints) != 0 {
		t.Errorf("expected no hints, got %v", hints)
	}

	if len(sg.SubGraphs) != 2 {
		t.Fatalf("expected 2 subgraphs, got %d", len(sg.SubGraphs))
	}
	if sg.SubGraphs[0].Name != "product" {
		t.Errorf("expected deterministic sort by name, got first=%q", sg.SubGraphs[0].Name)
	}

	owners := sg.GetSubGraphsForField("Product", "id")
	if len(owners) != 1 || owners[0].Name != "product" {
		t.Errorf("expected Product.id owned solely by product, got %v", owners)
	}

	reviewOwners := sg.GetSubGraphsForField("Product", "reviews")
	if len(reviewOwners) != 1 || reviewOwners[0].Name != "review" {
		t.Errorf("expected Product.reviews owned by review, got %v", reviewOwners)
	}

	if !sg.IsEntityType("Product") {
		t.Error("expected Product to be an entity type")
	}

	sdl := sg.SDL()
	if sdl == "" {
		t.Error("expected non-empty rendered SDL")
	}
}

func TestComposerMerge_EmptySubgraphs(t *testing.T) {
	if _, _, err := (graph.Composer{}).Merge(nil); err == nil {
		t.Error("expected error composing an empty subgraph set")
	}
}

func TestComposerMerge_Override(t *testing.T) {
	aSchema := `
		type Product @key(fields: "id") {
			id: ID!
			name: String!
		}
	`
	bSchema := `
		extend type Product @key(fields: "id") {
			id: ID! @external
			name: String! @override(from: "a")
		}
	`

	a, err := graph.NewSubGraph("a", []byte(aSchema), "http://a.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph a: %v", err)
	}
	b, err := graph.NewSubGraph("b", []byte(bSchema), "http://b.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph b: %v", err)
	}

	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{a, b})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	owner := sg.GetFieldOwnerSubGraph("Product", "name")
	if owner == nil || owner.Name != "b" {
		t.Errorf("expected @override to move Product.name ownership to b, got %v", owner)
	}
}

func TestComposerMerge_UnionEnumInterfaceJoinDirectives(t *testing.T) {
	catalogSchema := `
		interface Node {
			id: ID!
		}

		type Product implements Node @key(fields: "id") {
			id: ID!
			name: String!
		}

		union SearchResult = Product | Review

		enum Status {
			ACTIVE
			INACTIVE
		}

		type Review {
			id: ID!
		}

		type Query {
			product(id: ID!): Product
		}
	`
	inventorySchema := `
		interface Node {
			id: ID!
		}

		extend type Product implements Node @key(fields: "id") {
			id: ID! @external
			stock: Int!
		}

		union SearchResult = Product

		enum Status {
			ACTIVE
		}
	`

	catalogSG, err := graph.NewSubGraph("catalog", []byte(catalogSchema), "http://catalog.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph catalog: %v", err)
	}
	inventorySG, err := graph.NewSubGraph("inventory", []byte(inventorySchema), "http://inventory.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph inventory: %v", err)
	}

	sg, _, err := (graph.Composer{}).Merge([]*graph.SubGraph{catalogSG, inventorySG})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	jt := sg.JoinTypes["SearchResult"]
	if jt == nil {
		t.Fatal("expected a JoinType for SearchResult")
	}
	if got := jt.UnionMembers["Product"]; len(got) != 2 {
		t.Errorf("expected Product contributed by both subgraphs, got %v", got)
	}
	if got := jt.UnionMembers["Review"]; len(got) != 1 || got[0] != "catalog" {
		t.Errorf("expected Review contributed solely by catalog, got %v", got)
	}

	statusJT := sg.JoinTypes["Status"]
	if statusJT == nil {
		t.Fatal("expected a JoinType for Status")
	}
	if got := statusJT.EnumValues["ACTIVE"]; len(got) != 2 {
		t.Errorf("expected ACTIVE contributed by both subgraphs, got %v", got)
	}
	if got := statusJT.EnumValues["INACTIVE"]; len(got) != 1 || got[0] != "catalog" {
		t.Errorf("expected INACTIVE contributed solely by catalog, got %v", got)
	}

	productJT := sg.JoinTypes["Product"]
	if productJT == nil {
		t.Fatal("expected a JoinType for Product")
	}
	if got := productJT.Implements["Node"]; len(got) != 2 {
		t.Errorf("expected Node implemented in both subgraphs, got %v", got)
	}

	sdl := sg.SDL()
	for _, want := range []string{
		`@join__unionMember(graph: CATALOG, member: "Product")`,
		`@join__unionMember(graph: INVENTORY, member: "Product")`,
		`@join__unionMember(graph: CATALOG, member: "Review")`,
		`@join__enumValue(graph: CATALOG)`,
		`@join__enumValue(graph: INVENTORY)`,
		`@join__implements(graph: CATALOG, interface: "Node")`,
		`@join__implements(graph: INVENTORY, interface: "Node")`,
	} {
		if !strings.Contains(sdl, want) {
			t.Errorf("expected rendered SDL to contain %q, got:\n%s", want, sdl)
		}
	}
	if strings.Contains(sdl, "# @join__implements") {
		t.Error("expected @join__implements to be a real directive, not a comment")
	}
}

func TestComposerMerge_InputFieldConflictHint(t *testing.T) {
	a := `input Filter { limit: Int } type Query { f(filter: Filter): String }`
	b := `input Filter { limit: String } extend type Query { g(filter: Filter): String }`

	aSG, err := graph.NewSubGraph("a", []byte(a), "http://a.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph a: %v", err)
	}
	bSG, err := graph.NewSubGraph("b", []byte(b), "http://b.example.com")
	if err != nil {
		t.Fatalf("NewSubGraph b: %v", err)
	}

	_, hints, err := (graph.Composer{}).Merge([]*graph.SubGraph{aSG, bSG})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	found := false
	for _, h := range hints {
		if h.Kind == graph.HintInputFieldTypeConflict {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an input-field-type-conflict hint, got %v", hints)
	}
}
