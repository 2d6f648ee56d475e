package api

import (
	"testing"
	"time"
)

// ============================================================================
// TEST: Endpoint rate limiting
// ============================================================================

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("/api/signals/webhook") {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if limiter.Allow("/api/signals/webhook") {
		t.Error("Expected request over the limit to be rejected")
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	if !limiter.Allow("/a") {
		t.Fatal("Expected first request on /a to be allowed")
	}
	if !limiter.Allow("/b") {
		t.Error("Expected /b to have its own budget")
	}
	if limiter.Allow("/a") {
		t.Error("Expected /a to be exhausted")
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	limiter := NewRateLimiter(1, 10*time.Millisecond)

	if !limiter.Allow("/a") {
		t.Fatal("Expected first request to be allowed")
	}
	if limiter.Allow("/a") {
		t.Fatal("Expected second request to be rejected")
	}

	time.Sleep(15 * time.Millisecond)
	if !limiter.Allow("/a") {
		t.Error("Expected budget to refresh after the window")
	}
}
