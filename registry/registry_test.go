package registry_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/federated-graph/gwcore/registry"
)

const productSDL = `
	type Product @key(fields: "id") {
		id: ID!
		name: String!
	}

	type Query {
		product(id: ID!): Product
	}
`

const reviewSDL = `
	extend type Product @key(fields: "id") {
		id: ID! @external
		reviews: [Review!]!
	}

	type Review {
		id: ID!
		body: String!
	}
`

func TestRegistry_RegisterComposesSupergraph(t *testing.T) {
	r := registry.NewRegistry()

	if _, err := r.Register("product", productSDL, "http://product.example.com"); err != nil {
		t.Fatalf("Register(product): %v", err)
	}
	if r.Supergraph() == nil {
		t.Fatal("expected a supergraph after the first registration")
	}

	if _, err := r.Register("review", reviewSDL, "http://review.example.com"); err != nil {
		t.Fatalf("Register(review): %v", err)
	}

	sg := r.Supergraph()
	if len(sg.SubGraphs) != 2 {
		t.Fatalf("expected 2 subgraphs after both registrations, got %d", len(sg.SubGraphs))
	}
}

func TestRegistry_RejectsInvalidSDL(t *testing.T) {
	r := registry.NewRegistry()
	_, err := r.Register("broken", "type {{{ not valid sdl", "http://broken.example.com")
	if err == nil {
		t.Fatal("expected an error for invalid SDL")
	}
	if r.Supergraph() != nil {
		t.Fatal("expected no supergraph to be composed from an invalid registration")
	}
}

func TestRegistry_ServeHTTPRegistersGraphs(t *testing.T) {
	r := registry.NewRegistry()
	body := `{"graphs":[{"name":"product","host":"http://product.example.com","sdl":` + jsonQuote(productSDL) + `}]}`

	req := httptest.NewRequest(http.MethodPost, "/schema/registration", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if r.Supergraph() == nil {
		t.Fatal("expected the supergraph to be composed after registration over HTTP")
	}
}

func jsonQuote(s string) string {
	out := []byte{'"'}
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\n':
			out = append(out, '\\', 'n')
		case '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, byte(r))
		}
	}
	out = append(out, '"')
	return string(out)
}
