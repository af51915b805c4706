package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(16)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty tracker returned %v, expected 0", got)
	}
	if got := tracker.Count(); got != 0 {
		t.Fatalf("empty tracker counts %d samples", got)
	}
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := tracker.Count(); got != 100 {
		t.Fatalf("expected 100 samples, got %d", got)
	}
	if got := tracker.Percentile(0); got != 1*time.Millisecond {
		t.Fatalf("p0 = %v, expected 1ms", got)
	}
	if got := tracker.Percentile(100); got != 100*time.Millisecond {
		t.Fatalf("p100 = %v, expected 100ms", got)
	}
	p95 := tracker.Percentile(95)
	if p95 < 90*time.Millisecond || p95 > 100*time.Millisecond {
		t.Fatalf("p95 = %v, expected within [90ms,100ms]", p95)
	}
}

func TestLatencyTrackerRingOverwrite(t *testing.T) {
	tracker := NewLatencyTracker(4)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Second)
	}

	if got := tracker.Count(); got != 4 {
		t.Fatalf("ring should hold 4 samples, got %d", got)
	}
	// Only the most recent 4 observations (7..10s) remain.
	if got := tracker.Percentile(0); got < 7*time.Second {
		t.Fatalf("oldest retained sample %v, expected >= 7s", got)
	}
}

func TestLatencyTrackerClampsPercentile(t *testing.T) {
	tracker := NewLatencyTracker(8)
	tracker.Observe(5 * time.Millisecond)

	if got := tracker.Percentile(-10); got != 5*time.Millisecond {
		t.Fatalf("p<0 = %v, expected 5ms", got)
	}
	if got := tracker.Percentile(400); got != 5*time.Millisecond {
		t.Fatalf("p>100 = %v, expected 5ms", got)
	}
}
