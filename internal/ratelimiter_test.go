package internal

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("request %d within limit was denied", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("request over limit was allowed")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	if !limiter.Allow("1.2.3.4") {
		t.Fatalf("first key denied")
	}
	if !limiter.Allow("5.6.7.8") {
		t.Fatalf("second key denied; keys should not share budgets")
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("first key allowed over its limit")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)
	limiter.Allow("k")
	limiter.Allow("k")
	if limiter.Allow("k") {
		t.Fatalf("third hit inside window was allowed")
	}
	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("k") {
		t.Fatalf("hit after window expiry was denied")
	}
}
