package pool

import (
	"errors"
	"testing"
	"time"
)

func qt(id uint64, p Priority) *task {
	return &task{id: id, priority: p, fut: newFuture(id)}
}

func TestQueuePriorityOrder(t *testing.T) {
	t.Parallel()
	q := newTaskQueues(16)

	for _, tk := range []*task{qt(1, Normal), qt(2, Low), qt(3, High), qt(4, Normal), qt(5, High)} {
		if err := q.push(tk); err != nil {
			t.Fatalf("push(%d): %v", tk.id, err)
		}
	}

	want := []uint64{3, 5, 1, 4, 2}
	for i, id := range want {
		got := q.next()
		if got == nil {
			t.Fatalf("next() #%d = nil, want id %d", i, id)
		}
		if got.id != id {
			t.Fatalf("next() #%d = id %d, want %d", i, got.id, id)
		}
	}
	if q.next() != nil {
		t.Fatal("next() on empty queues should be nil")
	}
	if q.len() != 0 {
		t.Fatalf("len = %d after draining, want 0", q.len())
	}
}

func TestQueueCapAndPushFront(t *testing.T) {
	t.Parallel()
	q := newTaskQueues(2)

	if err := q.push(qt(1, Normal)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.push(qt(2, Normal)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.push(qt(3, Normal)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("push over cap = %v, want ErrQueueFull", err)
	}

	// Replays bypass the cap and land at the head of their level.
	q.pushFront(qt(4, Normal))
	if q.len() != 3 {
		t.Fatalf("len = %d after pushFront over cap, want 3", q.len())
	}
	if got := q.next(); got.id != 4 {
		t.Fatalf("next() = id %d after pushFront, want 4", got.id)
	}
}

func TestQueueRemoveByID(t *testing.T) {
	t.Parallel()
	q := newTaskQueues(8)
	for i := uint64(1); i <= 3; i++ {
		if err := q.push(qt(i, Low)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	if got := q.removeByID(2); got == nil || got.id != 2 {
		t.Fatalf("removeByID(2) = %v", got)
	}
	if got := q.removeByID(2); got != nil {
		t.Fatalf("removeByID(2) twice = id %d, want nil", got.id)
	}
	if got := q.removeByID(99); got != nil {
		t.Fatalf("removeByID(99) = id %d, want nil", got.id)
	}

	if got := q.next(); got.id != 1 {
		t.Fatalf("next() = id %d, want 1", got.id)
	}
	if got := q.next(); got.id != 3 {
		t.Fatalf("next() = id %d, want 3", got.id)
	}
}

func TestQueueExpire(t *testing.T) {
	t.Parallel()
	q := newTaskQueues(8)
	now := time.Now()

	stale := qt(1, Normal)
	stale.deadline = now.Add(-time.Second)
	fresh := qt(2, Normal)
	fresh.deadline = now.Add(time.Minute)
	forever := qt(3, High)

	for _, tk := range []*task{stale, fresh, forever} {
		if err := q.push(tk); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	expired := q.expire(now)
	if len(expired) != 1 || expired[0].id != 1 {
		t.Fatalf("expire = %v, want just id 1", expired)
	}
	if q.len() != 2 {
		t.Fatalf("len = %d after expire, want 2", q.len())
	}
}

func TestQueueDrain(t *testing.T) {
	t.Parallel()
	q := newTaskQueues(8)
	for i := uint64(1); i <= 4; i++ {
		if err := q.push(qt(i, Priority(int(i)%numPriorities))); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	all := q.drain()
	if len(all) != 4 {
		t.Fatalf("drain returned %d tasks, want 4", len(all))
	}
	if q.len() != 0 {
		t.Fatalf("len = %d after drain, want 0", q.len())
	}
	if q.next() != nil {
		t.Fatal("next() after drain should be nil")
	}
}
