package app

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllowsBurstThenDenies(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer rl.Close()

	if !rl.Allow("user-1") || !rl.Allow("user-1") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow("user-1") {
		t.Fatal("expected third immediate request to be denied")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := newRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer rl.Close()

	if !rl.Allow("user-1") {
		t.Fatal("expected first request for user-1")
	}
	if rl.Allow("user-1") {
		t.Fatal("expected user-1 to be throttled")
	}
	if !rl.Allow("user-2") {
		t.Fatal("user-2 must not share user-1's bucket")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(rate.Every(10*time.Millisecond), 1, time.Minute)
	defer rl.Close()

	if !rl.Allow("user-1") {
		t.Fatal("expected first request")
	}
	if rl.Allow("user-1") {
		t.Fatal("expected throttle before refill")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("user-1") {
		t.Fatal("expected allowance after refill interval")
	}
}
