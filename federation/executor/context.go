package executor

import (
	"sync"

	"github.com/google/uuid"
)

// CostRecord holds the demand-control accounting attached to a Context:
// estimated cost computed before execution, actual cost accumulated during
// it, and their difference.
type CostRecord struct {
	Estimated int
	Actual    int
	Delta     int
	Strategy  string // name of the cost strategy, e.g. "StaticEstimated"
}

// AuthDecision is one authorization outcome recorded against the Context,
// keyed by the field path it gates.
type AuthDecision struct {
	Path    string
	Allowed bool
	Reason  string
}

// Context is the per-request key/value store threaded through every pipeline
// layer: created at router entry, destroyed when
// the response stream terminates, shared mutably under a lock so plugins can
// read and write it. Field access goes through accessor methods rather than
// direct struct access so callers never hold the lock across a suspension
// point such as a subgraph HTTP call.
type Context struct {
	ID string

	mu            sync.Mutex
	clientName    string
	clientVersion string
	cost          CostRecord
	authDecisions []AuthDecision
	values        map[string]any
}

// NewContext creates a Context for one request, stamping a fresh ID.
func NewContext(clientName, clientVersion string) *Context {
	return &Context{
		ID:            uuid.NewString(),
		clientName:    clientName,
		clientVersion: clientVersion,
		values:        make(map[string]any),
	}
}

// Client returns the client name/version recorded for this request.
func (c *Context) Client() (name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientName, c.clientVersion
}

// Cost returns the current cost accounting snapshot.
func (c *Context) Cost() CostRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

// SetEstimatedCost records the pre-execution static cost estimate and the
// name of the strategy that produced it (e.g. "StaticEstimated").
func (c *Context) SetEstimatedCost(estimated int, strategy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cost.Estimated = estimated
	c.cost.Strategy = strategy
}

// AddActualCost accumulates actual cost observed during execution and keeps
// Delta in sync.
func (c *Context) AddActualCost(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cost.Actual += delta
	c.cost.Delta = c.cost.Actual - c.cost.Estimated
}

// RecordAuthDecision appends one authorization outcome.
func (c *Context) RecordAuthDecision(d AuthDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authDecisions = append(c.authDecisions, d)
}

// AuthDecisions returns a copy of every authorization outcome recorded so far.
func (c *Context) AuthDecisions() []AuthDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AuthDecision, len(c.authDecisions))
	copy(out, c.authDecisions)
	return out
}

// Set stores an arbitrary plugin-owned value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get retrieves a plugin-owned value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}
