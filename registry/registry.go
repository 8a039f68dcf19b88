package registry

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/federated-graph/gwcore/federation/graph"
)

// RegistrationGraph is one subgraph's submission: name, reachable host, and
// its SDL text.
type RegistrationGraph struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

// RegistrationRequest is the body accepted at POST /schema/registration.
type RegistrationRequest struct {
	Graphs []RegistrationGraph `json:"graphs"`
}

// Registry holds the set of registered subgraphs and the supergraph
// composed from them, recomposing on every successful registration.
type Registry struct {
	mu        sync.Mutex
	subgraphs map[string]*graph.SubGraph

	supergraph atomic.Pointer[graph.Supergraph]
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subgraphs: make(map[string]*graph.SubGraph)}
}

// Supergraph returns the most recently composed supergraph, or nil if no
// subgraph has been registered yet.
func (r *Registry) Supergraph() *graph.Supergraph {
	return r.supergraph.Load()
}

// Register validates and adds or replaces a subgraph by name, then
// recomposes the supergraph over every currently registered subgraph.
func (r *Registry) Register(name, sdl, host string) ([]graph.Hint, error) {
	if err := ValidateSDL([]byte(sdl)); err != nil {
		return nil, err
	}

	sub, err := graph.NewSubGraph(name, []byte(sdl), host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subgraph %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subgraphs[name] = sub

	subgraphs := make([]*graph.SubGraph, 0, len(r.subgraphs))
	for _, s := range r.subgraphs {
		subgraphs = append(subgraphs, s)
	}

	composed, hints, err := (graph.Composer{}).Merge(subgraphs)
	if err != nil {
		delete(r.subgraphs, name)
		return nil, fmt.Errorf("composition failed after registering %q: %w", name, err)
	}

	r.supergraph.Store(composed)
	return hints, nil
}

// ServeHTTP exposes the registration endpoint used by subgraph operators to
// publish their SDL.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/schema/registration" {
		http.NotFound(w, req)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body RegistrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "failed to decode registration request", http.StatusBadRequest)
		return
	}

	var hints []graph.Hint
	for _, g := range body.Graphs {
		h, err := r.Register(g.Name, g.SDL, g.Host)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hints = append(hints, h...)
	}

	w.Header().Set("Content-Type", "application/json")
	messages := make([]string, 0, len(hints))
	for _, h := range hints {
		messages = append(messages, h.Message)
	}
	json.NewEncoder(w).Encode(map[string]any{"hints": messages})
}
