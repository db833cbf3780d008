package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_EvictIdle(t *testing.T) {
	l := New(1, time.Second)
	defer l.Close()

	l.Allow("idle")
	l.Allow("active")

	l.mu.Lock()
	l.limiters["idle"].lastSeen = time.Now().Add(-time.Minute)
	l.mu.Unlock()

	l.evictIdle(time.Now())

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if !l.Allow("idle") {
		t.Error("evicted key should start with a full bucket")
	}
}
