package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onevisitor/onevisitor/internal/logging"
)

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewDefault("test"))
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/api/v1/sites", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the burst, got %d", rec.Code)
	}
}

func TestRateLimiterBoundsTrackedKeys(t *testing.T) {
	rl := NewRateLimiter(100, 100, logging.NewDefault("test"))

	for i := 0; i < maxTrackedKeys; i++ {
		rl.getLimiter(fmt.Sprintf("key-%d", i))
	}
	rl.mu.Lock()
	full := len(rl.limiters)
	rl.mu.Unlock()
	if full != maxTrackedKeys {
		t.Fatalf("expected %d tracked keys, got %d", maxTrackedKeys, full)
	}

	// one more new key triggers the reset rather than unbounded growth
	rl.getLimiter("overflow")
	rl.mu.Lock()
	after := len(rl.limiters)
	rl.mu.Unlock()
	if after != 1 {
		t.Fatalf("expected the limiter map to reset to 1 entry, got %d", after)
	}
}
