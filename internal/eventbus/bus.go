// Package eventbus decouples the pool from its observers (history recorder,
// log sinks) with a non-blocking in-memory fanout.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pool and its services. Data payloads are
// small structs owned by the publishing package (pool.TaskEvent,
// pool.WorkerEvent, pool.CircuitEvent).
const (
	TypeWorkerStarted   = "worker_started"
	TypeWorkerRestarted = "worker_restarted"
	TypeWorkerDead      = "worker_dead"

	TypeCircuitOpen     = "circuit_open"
	TypeCircuitHalfOpen = "circuit_half_open"
	TypeCircuitClosed   = "circuit_closed"

	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"
	TypeTaskRetried   = "task_retried"
	TypeTaskExpired   = "task_expired"

	TypeShutdownBegin    = "shutdown_begin"
	TypeShutdownComplete = "shutdown_complete"
)

// Event is one lifecycle signal. Publish never blocks: the pool coordinator
// emits these from its hot path, so a slow subscriber loses events instead
// of stalling dispatch.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		b.deliver(ch, e)
	}
}

// deliver sends without blocking. A concurrent Unsubscribe may close the
// channel mid-send; the recover absorbs that race.
func (b *fanout) deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.next.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
