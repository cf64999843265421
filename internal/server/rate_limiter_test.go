package server

import (
	"testing"
	"time"
)

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Second)
	current := time.Now()
	rl.lastCheck = current
	rl.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected request %d within burst to be allowed", i+1)
		}
	}
	if rl.allow() {
		t.Error("Expected request beyond burst to be denied")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := newRateLimiter(2, time.Second)
	current := time.Now()
	rl.lastCheck = current
	rl.now = func() time.Time { return current }

	rl.allow()
	rl.allow()
	if rl.allow() {
		t.Fatal("Expected bucket to be empty")
	}

	// Half the interval restores one token at a rate of 2/s.
	current = current.Add(500 * time.Millisecond)
	if !rl.allow() {
		t.Error("Expected one token after a partial refill")
	}
	if rl.allow() {
		t.Error("Expected only one token from a partial refill")
	}
}

func TestRateLimiterCapsAtCapacity(t *testing.T) {
	rl := newRateLimiter(2, time.Second)
	current := time.Now()
	rl.lastCheck = current
	rl.now = func() time.Time { return current }

	// A long idle period must not accumulate more than the burst.
	current = current.Add(time.Minute)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Expected exactly 2 requests after a long idle, got %d", allowed)
	}
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if rl.capacity != 1 {
		t.Errorf("Expected non-positive capacity to clamp to 1, got %v", rl.capacity)
	}
	if !rl.allow() {
		t.Error("Expected a clamped limiter to allow its single token")
	}
}
