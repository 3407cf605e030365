package handlers

import (
	"testing"
	"time"
)

func TestStaffRateLimiter_RefillsOverWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newStaffRateLimiter(3, 30*time.Second, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow("stf-1"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, wait := limiter.Allow("stf-1")
	if ok || wait <= 0 || wait > 10*time.Second {
		t.Fatalf("expected throttle with wait <= 10s, got ok=%v wait=%s", ok, wait)
	}

	now = now.Add(10 * time.Second)
	if ok, _ := limiter.Allow("stf-1"); !ok {
		t.Fatalf("expected one token refilled after 10s")
	}
	if ok, _ := limiter.Allow("stf-2"); !ok {
		t.Fatalf("other staff must have their own bucket")
	}
}

func TestNewStaffRateLimiter_DisabledForZeroLimit(t *testing.T) {
	if newStaffRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter")
	}
}
