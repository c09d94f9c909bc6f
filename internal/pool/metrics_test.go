package pool

import (
	"testing"
	"time"
)

func TestBucketFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{time.Second, 7},
		{time.Minute, len(latencyBounds)}, // +Inf overflow
	}
	for _, tt := range tests {
		if got := bucketFor(tt.d); got != tt.want {
			t.Fatalf("bucketFor(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestMetricsSnapshot(t *testing.T) {
	t.Parallel()
	m := &metrics{}

	m.recordCompleted(10 * time.Millisecond)
	m.recordCompleted(20 * time.Millisecond)
	m.recordFailed(time.Millisecond)
	m.retried.Add(3)
	m.setQueueDepth(High, 2)
	m.setQueueDepth(Low, 5)
	m.setCircuit(CircuitHalfOpen)

	s := m.snapshot()
	if s.Completed != 2 || s.Failed != 1 || s.Retried != 3 {
		t.Fatalf("counters = completed %d failed %d retried %d", s.Completed, s.Failed, s.Retried)
	}
	if s.AvgDuration != 15*time.Millisecond {
		t.Fatalf("AvgDuration = %v, want 15ms", s.AvgDuration)
	}
	if s.QueueDepth["high"] != 2 || s.QueueDepth["normal"] != 0 || s.QueueDepth["low"] != 5 {
		t.Fatalf("QueueDepth = %v", s.QueueDepth)
	}
	if s.Circuit != "half_open" {
		t.Fatalf("Circuit = %q, want half_open", s.Circuit)
	}

	if len(s.Latency) != len(latencyBounds)+1 {
		t.Fatalf("Latency has %d buckets, want %d", len(s.Latency), len(latencyBounds)+1)
	}
	var total uint64
	for _, b := range s.Latency {
		total += b.Count
	}
	if total != 3 {
		t.Fatalf("bucket counts sum to %d, want 3", total)
	}
	last := s.Latency[len(s.Latency)-1]
	if last.UpperBound != 0 {
		t.Fatalf("overflow bucket UpperBound = %v, want 0 (+Inf)", last.UpperBound)
	}
}

func TestRecordFailedWithoutDuration(t *testing.T) {
	t.Parallel()
	m := &metrics{}

	// A crash has no measured duration; it counts as a failure but must not
	// land in the first latency bucket.
	m.recordFailed(0)
	m.recordFailed(time.Millisecond)

	s := m.snapshot()
	if s.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", s.Failed)
	}
	var total uint64
	for _, b := range s.Latency {
		total += b.Count
	}
	if total != 1 {
		t.Fatalf("bucket counts sum to %d, want 1", total)
	}
	if s.Latency[0].Count != 1 {
		t.Fatalf("first bucket = %d, want 1", s.Latency[0].Count)
	}
}

func TestSnapshotZeroCompleted(t *testing.T) {
	t.Parallel()
	m := &metrics{}
	if s := m.snapshot(); s.AvgDuration != 0 {
		t.Fatalf("AvgDuration = %v with no completions, want 0", s.AvgDuration)
	}
}
