// Package batch implements BatchCoordinator: grouping
// concurrent subgraph calls (or an inbound client batch) targeting the same
// subgraph into a single outbound HTTP call.
package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
)

// SubrequestBatchingError is returned to a batch item's waiters when the
// item is cancelled before its fetches complete.
type SubrequestBatchingError struct {
	Service string
	Reason  string
}

func (e *SubrequestBatchingError) Error() string {
	return fmt.Sprintf("subrequest batching error for %s: %s", e.Service, e.Reason)
}

// ProcessingFailed aborts the whole batch rather than one item: the
// coordinator could not reach a consistent terminal state for every item, so
// grouping and dispatch are abandoned entirely.
type ProcessingFailed struct {
	Reason string
}

func (e *ProcessingFailed) Error() string {
	return fmt.Sprintf("batch processing failed: %s", e.Reason)
}

// Begin announces how many Progress events a batch item will send before it
// reaches a terminal state.
type Begin struct {
	Index       int
	QueryHashes []string
}

// Progress is one subgraph call belonging to a batch item.
type Progress struct {
	Index       int
	Subgraph    string
	Host        string
	Query       string
	Variables   map[string]any
	ResponseTx  chan<- Response
}

// Response is delivered back to the item that issued a Progress event.
type Response struct {
	Data map[string]any
	Err  error
}

// Cancel short-circuits a batch item's remaining fetches.
type Cancel struct {
	Index  int
	Reason string
}

type itemState struct {
	expected   int
	received   int
	ready      bool // Begin has been called
	cancelled  bool
	reason     string
	progresses []Progress
}

// Coordinator groups N batch items' subgraph calls by subgraph name and
// issues one HTTP request per group once every item has reached a terminal
// state.
type Coordinator struct {
	httpClient *http.Client

	mu       sync.Mutex
	items    []*itemState
	claimed  []bool
	begun    int
	done     chan struct{}
	doneOnce sync.Once
	failure  *ProcessingFailed
}

// NewCoordinator allocates a Coordinator sized for n batch items.
func NewCoordinator(httpClient *http.Client, n int) *Coordinator {
	return &Coordinator{
		httpClient: httpClient,
		items:      make([]*itemState, n),
		claimed:    make([]bool, n),
		done:       make(chan struct{}),
	}
}

// Claim hands out the sender slot for item index. Calling Claim twice for
// the same index is an error — at most one sender per item.
func (c *Coordinator) Claim(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.claimed) {
		return fmt.Errorf("batch index %d out of range", index)
	}
	if c.claimed[index] {
		return fmt.Errorf("batch index %d already claimed", index)
	}
	c.claimed[index] = true
	c.items[index] = &itemState{}
	return nil
}

// Begin records the expected fetch count for item index.
func (c *Coordinator) Begin(b Begin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.items[b.Index]
	if item == nil {
		return fmt.Errorf("batch index %d not claimed", b.Index)
	}
	item.ready = true
	item.expected = len(b.QueryHashes)
	if item.expected == 0 {
		c.begun++
		c.checkAllDoneLocked()
	}
	return nil
}

// Abandon reports that the sender owning item index was dropped — its
// goroutine exited or the caller gave up — without ever calling Begin. The
// item can never reach a terminal state on its own at that point, so the
// whole batch fails rather than Run hanging forever on an item that will
// never become ready.
func (c *Coordinator) Abandon(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.items) {
		return
	}
	item := c.items[index]
	if item == nil || item.ready || item.cancelled {
		return
	}
	if c.failure == nil {
		c.failure = &ProcessingFailed{Reason: "batch senders not ready when required"}
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// Progress registers one subgraph fetch belonging to item p.Index.
func (c *Coordinator) Progress(p Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.items[p.Index]
	if item == nil {
		return fmt.Errorf("batch index %d not claimed", p.Index)
	}
	if item.cancelled {
		p.ResponseTx <- Response{Err: &SubrequestBatchingError{Service: p.Subgraph, Reason: "request cancelled: " + item.reason}}
		return nil
	}

	item.progresses = append(item.progresses, p)
	item.received++
	if item.received >= item.expected {
		c.begun++
	}
	c.checkAllDoneLocked()
	return nil
}

// Cancel marks item cancel.Index as cancelled, short-circuiting any fetches still
// waiting on it.
func (c *Coordinator) Cancel(cancel Cancel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.items[cancel.Index]
	if item == nil {
		return fmt.Errorf("batch index %d not claimed", cancel.Index)
	}
	if item.cancelled {
		return nil
	}
	item.cancelled = true
	item.reason = cancel.Reason
	for _, p := range item.progresses {
		p.ResponseTx <- Response{Err: &SubrequestBatchingError{Service: p.Subgraph, Reason: "request cancelled: " + cancel.Reason}}
	}
	item.progresses = nil
	c.begun++
	c.checkAllDoneLocked()
	return nil
}

func (c *Coordinator) checkAllDoneLocked() {
	if c.begun < len(c.items) {
		return
	}
	for _, claimed := range c.claimed {
		if !claimed {
			return
		}
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// Run blocks until every item has reached a terminal state, then groups
// Progress entries by subgraph, issues one HTTP call per group, and
// dispatches responses back to each item's ResponseTx channel in input
// order.
func (c *Coordinator) Run(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	failure := c.failure
	groups := make(map[string][]Progress)
	var order []string
	for _, item := range c.items {
		if item == nil {
			continue
		}
		for _, p := range item.progresses {
			if _, seen := groups[p.Subgraph]; !seen {
				order = append(order, p.Subgraph)
			}
			groups[p.Subgraph] = append(groups[p.Subgraph], p)
		}
	}
	c.mu.Unlock()

	if failure != nil {
		for _, subgraph := range order {
			for _, p := range groups[subgraph] {
				p.ResponseTx <- Response{Err: failure}
			}
		}
		return failure
	}

	for _, subgraph := range order {
		if err := c.runGroup(ctx, groups[subgraph]); err != nil {
			for _, p := range groups[subgraph] {
				p.ResponseTx <- Response{Err: err}
			}
		}
	}
	return nil
}

func (c *Coordinator) runGroup(ctx context.Context, group []Progress) error {
	body := make([]map[string]any, len(group))
	for i, p := range group {
		entry := map[string]any{"query": p.Query}
		if len(p.Variables) > 0 {
			entry["variables"] = p.Variables
		}
		body[i] = entry
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal batch body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, group[0].Host, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send batch request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read batch response: %w", err)
	}

	var results []map[string]any
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("failed to unmarshal batch response: %w", err)
	}

	for i, p := range group {
		if i >= len(results) {
			p.ResponseTx <- Response{Err: fmt.Errorf("batch response missing entry %d", i)}
			continue
		}
		data, _ := results[i]["data"].(map[string]any)
		p.ResponseTx <- Response{Data: data}
	}
	return nil
}
