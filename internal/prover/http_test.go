package prover

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veriform/proofloop/internal/cache"
)

func newCheckServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Accepted(t *testing.T) {
	srv := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check" {
			t.Errorf("expected /check, got %s", r.URL.Path)
		}
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Source == "" {
			t.Error("expected non-empty proof source")
		}
		_ = json.NewEncoder(w).Encode(checkResponse{Accepted: true})
	})

	client, err := NewHTTPClient(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Check(context.Background(), "theorem t : 1 = 1 := rfl")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Accepted {
		t.Error("expected accepted")
	}
}

func TestHTTPClient_RejectedWithDiagnostics(t *testing.T) {
	srv := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(checkResponse{
			Accepted:    false,
			Diagnostics: "line 3: unknown identifier 'foo'",
		})
	})

	client, _ := NewHTTPClient(srv.URL, 5*time.Second)
	result, err := client.Check(context.Background(), "bad proof")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.Accepted {
		t.Error("expected rejected")
	}
	if result.Diagnostics != "line 3: unknown identifier 'foo'" {
		t.Errorf("diagnostics not passed through verbatim: %q", result.Diagnostics)
	}
}

func TestHTTPClient_ServerErrorIsToolUnavailable(t *testing.T) {
	srv := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "checker crashed", http.StatusInternalServerError)
	})

	client, _ := NewHTTPClient(srv.URL, 5*time.Second)
	_, err := client.Check(context.Background(), "proof")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("expected ErrToolUnavailable, got %v", err)
	}
	if IsTransient(err) {
		t.Error("tool unavailable must not be transient")
	}
}

func TestHTTPClient_GatewayTimeoutIsTransient(t *testing.T) {
	srv := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	})

	client, _ := NewHTTPClient(srv.URL, 5*time.Second)
	_, err := client.Check(context.Background(), "proof")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("timeout must be transient")
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	client, _ := NewHTTPClient("http://127.0.0.1:1", time.Second)
	_, err := client.Check(context.Background(), "proof")
	if !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestNewHTTPClient_RequiresURL(t *testing.T) {
	if _, err := NewHTTPClient("", time.Second); err == nil {
		t.Error("expected error for empty URL")
	}
}

// countingClient counts Check calls for cache tests.
type countingClient struct {
	calls  int
	result Result
	err    error
}

func (c *countingClient) Name() string { return "counting" }

func (c *countingClient) Check(ctx context.Context, proofSource string) (*Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	r := c.result
	return &r, nil
}

func TestCachedClient_SecondCheckHitsCache(t *testing.T) {
	inner := &countingClient{result: Result{Accepted: true}}
	cached := NewCachedClient(inner, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	for i := 0; i < 3; i++ {
		result, err := cached.Check(context.Background(), "same proof")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if !result.Accepted {
			t.Fatalf("check %d: expected accepted", i)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", inner.calls)
	}

	// A different source misses.
	if _, err := cached.Check(context.Background(), "other proof"); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", inner.calls)
	}
}

func TestCachedClient_ErrorsNotCached(t *testing.T) {
	inner := &countingClient{err: ErrTimeout}
	cached := NewCachedClient(inner, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cached.Check(context.Background(), "proof"); !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("errors must not be cached; expected 2 calls, got %d", inner.calls)
	}
}
