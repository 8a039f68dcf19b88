package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeSchemaFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write schema file: %v", err)
	}
	return path
}

func TestGateway_ServeHTTPSingleQuery(t *testing.T) {
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"product":{"id":"1","name":"Keyboard"}}}`))
	}))
	defer subgraph.Close()

	dir := t.TempDir()
	schemaFile := writeSchemaFile(t, dir, "product.graphql", `
		type Product {
			id: ID!
			name: String!
		}
		type Query {
			product(id: ID!): Product
		}
	`)

	gw, err := NewGateway(GatewayOption{
		ServiceName: "test-gateway",
		Subgraphs: []SubgraphConfig{
			{Name: "product", Host: subgraph.URL, SchemaFiles: []string{schemaFile}},
		},
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	body := `{"query":"query { product(id: \"1\") { id name } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := resp["data"]; !ok {
		t.Fatalf("expected a data field in the response, got %v", resp)
	}
}

func TestNewGateway_FetchesSDLOverTheWireWhenNoSchemaFiles(t *testing.T) {
	subgraph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { hello: String }"}}}`))
	}))
	defer subgraph.Close()

	gw, err := NewGateway(GatewayOption{
		ServiceName: "test-gateway",
		Subgraphs: []SubgraphConfig{
			{Name: "product", Host: subgraph.URL, IntrospectRetry: RetryOption{Attempts: 2, Timeout: "1s"}},
		},
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if _, ok := gw.supergraph.GetSubGraphByName("product"); !ok {
		t.Error("expected the introspected subgraph to be composed into the supergraph")
	}
}

func TestGateway_ServeHTTPRejectsNonPost(t *testing.T) {
	dir := t.TempDir()
	schemaFile := writeSchemaFile(t, dir, "product.graphql", `
		type Query { hello: String }
	`)
	gw, err := NewGateway(GatewayOption{
		Subgraphs: []SubgraphConfig{{Name: "a", Host: "http://a.example.com", SchemaFiles: []string{schemaFile}}},
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestGateway_BatchEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	schemaFile := writeSchemaFile(t, dir, "a.graphql", `
		type Query { hello: String }
	`)
	gw, err := NewGateway(GatewayOption{
		Subgraphs: []SubgraphConfig{{Name: "a", Host: "http://a.example.com", SchemaFiles: []string{schemaFile}}},
		Batch:     BatchConfig{MaxBatchSize: 1},
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	body := `[{"query":"{ hello }"},{"query":"{ hello }"}]`
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a batch exceeding the configured size limit, got %d", w.Code)
	}
}

func TestDisallowedInBatch_RejectsDeferAndSubscription(t *testing.T) {
	if _, ok := disallowedInBatch(`query { hello @defer }`); !ok {
		t.Error("expected @defer to be rejected inside a batch")
	}
	if _, ok := disallowedInBatch(`subscription { onHello }`); !ok {
		t.Error("expected a subscription to be rejected inside a batch")
	}
	if _, ok := disallowedInBatch(`query { hello }`); ok {
		t.Error("expected a plain query to be allowed inside a batch")
	}
}
