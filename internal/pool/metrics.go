package pool

import (
	"sync/atomic"
	"time"
)

// latencyBounds are the fixed upper bounds of the completion-latency buckets.
// The implicit final bucket is +Inf.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// metrics aggregates pool counters. The coordinator is the only writer for
// gauges; counters and buckets are atomics so Stats() never blocks it.
type metrics struct {
	completed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	expired   atomic.Uint64
	cancelled atomic.Uint64
	rejected  atomic.Uint64 // queue-full + circuit-open + rate-limited

	durationTotal atomic.Int64 // nanoseconds, completed tasks only
	buckets       [len(latencyBounds) + 1]atomic.Uint64

	activeWorkers atomic.Int64
	busyWorkers   atomic.Int64
	deadSlots     atomic.Int64
	queueDepth    [numPriorities]atomic.Int64

	circuit atomic.Int32
}

func (m *metrics) recordCompleted(d time.Duration) {
	m.completed.Add(1)
	m.durationTotal.Add(int64(d))
	m.buckets[bucketFor(d)].Add(1)
}

func (m *metrics) recordFailed(d time.Duration) {
	m.failed.Add(1)
	// Crash-path failures carry no measured duration; keep them out of the
	// latency histogram.
	if d > 0 {
		m.buckets[bucketFor(d)].Add(1)
	}
}

func bucketFor(d time.Duration) int {
	for i, b := range latencyBounds {
		if d <= b {
			return i
		}
	}
	return len(latencyBounds)
}

func (m *metrics) setQueueDepth(p Priority, n int) {
	m.queueDepth[p].Store(int64(n))
}

func (m *metrics) setCircuit(s CircuitState) {
	m.circuit.Store(int32(s))
}

// LatencyBucket is one fixed histogram bucket in a Snapshot.
// UpperBound == 0 marks the +Inf overflow bucket.
type LatencyBucket struct {
	UpperBound time.Duration `json:"upper_bound"`
	Count      uint64        `json:"count"`
}

// Snapshot is a point-in-time copy of pool metrics. Taking one never blocks
// the coordinator.
type Snapshot struct {
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Expired   uint64 `json:"expired"`
	Cancelled uint64 `json:"cancelled"`
	Rejected  uint64 `json:"rejected"`

	AvgDuration time.Duration   `json:"avg_duration"`
	Latency     []LatencyBucket `json:"latency"`

	// ActiveWorkers counts live (non-dead) workers; DeadSlots counts slots
	// pinned at their restart budget. ActiveWorkers + DeadSlots == PoolSize.
	ActiveWorkers int `json:"active_workers"`
	BusyWorkers   int `json:"busy_workers"`
	DeadSlots     int `json:"dead_slots"`

	QueueDepth map[string]int `json:"queue_depth"`

	Circuit string `json:"circuit"`
}

func (m *metrics) snapshot() Snapshot {
	s := Snapshot{
		Completed:     m.completed.Load(),
		Failed:        m.failed.Load(),
		Retried:       m.retried.Load(),
		Expired:       m.expired.Load(),
		Cancelled:     m.cancelled.Load(),
		Rejected:      m.rejected.Load(),
		ActiveWorkers: int(m.activeWorkers.Load()),
		BusyWorkers:   int(m.busyWorkers.Load()),
		DeadSlots:     int(m.deadSlots.Load()),
		Circuit:       CircuitState(m.circuit.Load()).String(),
	}
	if s.Completed > 0 {
		s.AvgDuration = time.Duration(uint64(m.durationTotal.Load()) / s.Completed)
	}
	s.Latency = make([]LatencyBucket, 0, len(m.buckets))
	for i := range m.buckets {
		b := LatencyBucket{Count: m.buckets[i].Load()}
		if i < len(latencyBounds) {
			b.UpperBound = latencyBounds[i]
		}
		s.Latency = append(s.Latency, b)
	}
	s.QueueDepth = map[string]int{
		High.String():   int(m.queueDepth[High].Load()),
		Normal.String(): int(m.queueDepth[Normal].Load()),
		Low.String():    int(m.queueDepth[Low].Load()),
	}
	return s
}
