package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchSDL_SucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { hello: String }"}}}`))
	}))
	defer srv.Close()

	sdl, err := fetchSDL(context.Background(), srv.URL, srv.Client(), RetryOption{Attempts: 3, Timeout: "1s"})
	if err != nil {
		t.Fatalf("fetchSDL: %v", err)
	}
	if sdl != "type Query { hello: String }" {
		t.Errorf("unexpected SDL: %q", sdl)
	}
}

func TestFetchSDL_RetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"_service":{"sdl":"type Query { hello: String }"}}}`))
	}))
	defer srv.Close()

	sdl, err := fetchSDL(context.Background(), srv.URL, srv.Client(), RetryOption{Attempts: 3, Timeout: "1s"})
	if err != nil {
		t.Fatalf("fetchSDL: %v", err)
	}
	if sdl != "type Query { hello: String }" {
		t.Errorf("unexpected SDL: %q", sdl)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestFetchSDL_ExhaustsRetriesAndFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchSDL(context.Background(), srv.URL, srv.Client(), RetryOption{Attempts: 2, Timeout: "1s"})
	if err == nil {
		t.Fatal("expected fetchSDL to fail after exhausting retries")
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}
