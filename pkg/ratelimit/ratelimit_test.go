package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenExhausted(t *testing.T) {
	tb := NewTokenBucket(3, 1)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d denied inside burst capacity", i)
		}
	}
	if tb.Allow() {
		t.Fatal("request allowed with an empty bucket")
	}
	if got := tb.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestRefill(t *testing.T) {
	tb := NewTokenBucket(2, 10)

	tb.Allow()
	tb.Allow()
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(1100 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("bucket did not refill")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 100)
	time.Sleep(1100 * time.Millisecond)
	if got := tb.Remaining(); got != 2 {
		t.Fatalf("remaining = %d, want capacity 2", got)
	}
}
