package verify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) (*Client, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	return NewClient(opts, discardLogger()), &calls
}

func respond(t *testing.T, w http.ResponseWriter, resp apiResponse) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestVerifyValid(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "a@example.com" {
			t.Errorf("email param = %q, want a@example.com", got)
		}
		respond(t, w, apiResponse{Status: "ok"})
	}, Options{})

	res := c.Verify(context.Background(), "a@example.com")
	if !res.Valid || res.Risky || res.Status != StatusOK {
		t.Errorf("Verify() = %+v, want valid ok", res)
	}
}

func TestVerifyCatchAllIsRisky(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, apiResponse{Status: "ok", CatchAll: true})
	}, Options{})

	res := c.Verify(context.Background(), "a@example.com")
	if res.Valid {
		t.Error("catch-all treated as valid, want accept-risk")
	}
	if !res.Risky || res.Status != StatusCatchAll {
		t.Errorf("Verify() = %+v, want risky catch_all", res)
	}
}

func TestVerifyDisposableAndSpamtrap(t *testing.T) {
	tests := []struct {
		name string
		resp apiResponse
		want Status
	}{
		{"disposable flag", apiResponse{Status: "ok", Disposable: true}, StatusDisposable},
		{"spamtrap status", apiResponse{Status: "spamtrap"}, StatusSpamtrap},
		{"invalid status", apiResponse{Status: "invalid"}, StatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				respond(t, w, tt.resp)
			}, Options{})

			res := c.Verify(context.Background(), "a@example.com")
			if res.Status != tt.want {
				t.Errorf("Status = %v, want %v", res.Status, tt.want)
			}
			if res.Valid {
				t.Errorf("%s treated as valid", tt.name)
			}
		})
	}
}

func TestVerifyRetriesThenDegrades(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, Options{MaxRetries: 2, RetryBackoff: time.Millisecond})

	res := c.Verify(context.Background(), "a@example.com")
	if res != unknownRisky {
		t.Errorf("Verify() = %+v, want degraded unknown/risky", res)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", got)
	}
}

func TestVerifyRecoversMidRetry(t *testing.T) {
	var n atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		respond(t, w, apiResponse{Status: "ok"})
	}, Options{MaxRetries: 3, RetryBackoff: time.Millisecond})

	res := c.Verify(context.Background(), "a@example.com")
	if !res.Valid {
		t.Errorf("Verify() = %+v, want valid after retry recovery", res)
	}
	if c.BreakerState() != BreakerClosed {
		t.Errorf("breaker = %v, want closed after success", c.BreakerState())
	}
}

func TestVerifyBreakerShortCircuits(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}, Options{
		MaxRetries:       0,
		RetryBackoff:     time.Millisecond,
		BreakerThreshold: 2,
		BreakerReset:     time.Hour,
	})

	ctx := context.Background()
	c.Verify(ctx, "a@example.com")
	c.Verify(ctx, "b@example.com")
	if c.BreakerState() != BreakerOpen {
		t.Fatalf("breaker = %v, want open after threshold failures", c.BreakerState())
	}

	before := calls.Load()
	for _, email := range []string{"c@example.com", "d@example.com", "e@example.com", "f@example.com", "g@example.com"} {
		res := c.Verify(ctx, email)
		if res != unknownRisky {
			t.Errorf("Verify(%s) = %+v, want short-circuited unknown/risky", email, res)
		}
	}
	if got := calls.Load(); got != before {
		t.Errorf("network calls while open = %d, want 0", got-before)
	}
}

func TestVerifyContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, Options{MaxRetries: 5, RetryBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := c.Verify(ctx, "a@example.com")
	if res != unknownRisky {
		t.Errorf("Verify() = %+v, want degraded on cancel", res)
	}
	if time.Since(start) > time.Second {
		t.Error("Verify() did not return promptly on cancellation")
	}
}
