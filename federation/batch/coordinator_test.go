package batch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/federated-graph/gwcore/federation/batch"
)

func TestCoordinator_GroupsBySubgraphAndDispatchesInOrder(t *testing.T) {
	var received [][]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		received = append(received, body)
		resp := make([]map[string]any, len(body))
		for i := range body {
			resp[i] = map[string]any{"data": map[string]any{"n": i}}
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	c := batch.NewCoordinator(srv.Client(), 2)
	if err := c.Claim(0); err != nil {
		t.Fatalf("Claim(0): %v", err)
	}
	if err := c.Claim(1); err != nil {
		t.Fatalf("Claim(1): %v", err)
	}
	if err := c.Begin(batch.Begin{Index: 0, QueryHashes: []string{"h1"}}); err != nil {
		t.Fatalf("Begin(0): %v", err)
	}
	if err := c.Begin(batch.Begin{Index: 1, QueryHashes: []string{"h2"}}); err != nil {
		t.Fatalf("Begin(1): %v", err)
	}

	rx0 := make(chan batch.Response, 1)
	rx1 := make(chan batch.Response, 1)
	if err := c.Progress(batch.Progress{Index: 0, Subgraph: "catalog", Host: srv.URL, Query: "{ a }", ResponseTx: rx0}); err != nil {
		t.Fatalf("Progress(0): %v", err)
	}
	if err := c.Progress(batch.Progress{Index: 1, Subgraph: "catalog", Host: srv.URL, Query: "{ b }", ResponseTx: rx1}); err != nil {
		t.Fatalf("Progress(1): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("expected exactly one outbound batch call, got %d", len(received))
	}
	if len(received[0]) != 2 {
		t.Fatalf("expected the two fetches grouped into one call, got %d entries", len(received[0]))
	}

	select {
	case r := <-rx0:
		if r.Err != nil {
			t.Fatalf("unexpected error for item 0: %v", r.Err)
		}
	default:
		t.Fatal("expected a response for item 0")
	}
	select {
	case r := <-rx1:
		if r.Err != nil {
			t.Fatalf("unexpected error for item 1: %v", r.Err)
		}
	default:
		t.Fatal("expected a response for item 1")
	}
}

func TestCoordinator_DoubleClaimIsError(t *testing.T) {
	c := batch.NewCoordinator(http.DefaultClient, 1)
	if err := c.Claim(0); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := c.Claim(0); err == nil {
		t.Fatal("expected an error on double-claim")
	}
}

func TestCoordinator_AbandonedSenderFailsWholeBatch(t *testing.T) {
	c := batch.NewCoordinator(http.DefaultClient, 2)
	if err := c.Claim(0); err != nil {
		t.Fatalf("Claim(0): %v", err)
	}
	if err := c.Claim(1); err != nil {
		t.Fatalf("Claim(1): %v", err)
	}
	if err := c.Begin(batch.Begin{Index: 0, QueryHashes: []string{"h1"}}); err != nil {
		t.Fatalf("Begin(0): %v", err)
	}

	rx0 := make(chan batch.Response, 1)
	if err := c.Progress(batch.Progress{Index: 0, Subgraph: "catalog", Host: "http://unused", Query: "{ a }", ResponseTx: rx0}); err != nil {
		t.Fatalf("Progress(0): %v", err)
	}

	// item 1's sender goroutine exits without ever calling Begin.
	c.Abandon(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to fail the whole batch")
	}
	pf, ok := err.(*batch.ProcessingFailed)
	if !ok {
		t.Fatalf("expected *batch.ProcessingFailed, got %T", err)
	}
	if pf.Reason != "batch senders not ready when required" {
		t.Errorf("unexpected reason: %q", pf.Reason)
	}

	select {
	case r := <-rx0:
		if r.Err == nil {
			t.Fatal("expected item 0's already-registered fetch to also fail")
		}
		if _, ok := r.Err.(*batch.ProcessingFailed); !ok {
			t.Errorf("expected *batch.ProcessingFailed propagated to item 0, got %T", r.Err)
		}
	default:
		t.Fatal("expected a response for item 0's fetch")
	}
}

func TestCoordinator_CancelShortCircuitsWaitingFetch(t *testing.T) {
	c := batch.NewCoordinator(http.DefaultClient, 1)
	if err := c.Claim(0); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := c.Begin(batch.Begin{Index: 0, QueryHashes: []string{"h1"}}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	rx := make(chan batch.Response, 1)
	if err := c.Cancel(batch.Cancel{Index: 0, Reason: "client disconnected"}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := c.Progress(batch.Progress{Index: 0, Subgraph: "catalog", Host: "http://unused", Query: "{ a }", ResponseTx: rx}); err != nil {
		t.Fatalf("Progress after cancel: %v", err)
	}

	select {
	case r := <-rx:
		if r.Err == nil {
			t.Fatal("expected a SubrequestBatchingError after cancellation")
		}
		if _, ok := r.Err.(*batch.SubrequestBatchingError); !ok {
			t.Errorf("expected *batch.SubrequestBatchingError, got %T", r.Err)
		}
	default:
		t.Fatal("expected an immediate response after cancellation")
	}
}
