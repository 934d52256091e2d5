package api

import (
	"math"
	"testing"
	"time"
)

func TestComputeDelay_FirstAttemptIsBase(t *testing.T) {
	if got := ComputeDelay(time.Second, 1); got != time.Second {
		t.Fatalf("expected %v, got %v", time.Second, got)
	}
}

func TestComputeDelay_Doubles(t *testing.T) {
	base := 1000 * time.Millisecond
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := ComputeDelay(base, i+1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestComputeDelay_StrictlyIncreasing(t *testing.T) {
	for _, base := range []time.Duration{time.Millisecond, 250 * time.Millisecond, 3 * time.Second} {
		prev := ComputeDelay(base, 1)
		for k := 2; k <= 20; k++ {
			cur := ComputeDelay(base, k)
			if cur <= prev {
				t.Fatalf("base=%v: delay(%d)=%v not greater than delay(%d)=%v", base, k, cur, k-1, prev)
			}
			prev = cur
		}
	}
}

func TestComputeDelay_EdgeCases(t *testing.T) {
	if got := ComputeDelay(time.Second, 0); got != time.Second {
		t.Fatalf("attempt 0 should behave like attempt 1, got %v", got)
	}
	if got := ComputeDelay(0, 5); got != 0 {
		t.Fatalf("zero base should give zero delay, got %v", got)
	}
	if got := ComputeDelay(time.Hour, 200); got != time.Duration(math.MaxInt64) {
		t.Fatalf("expected saturation, got %v", got)
	}
}
