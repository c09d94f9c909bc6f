package pool

import "time"

// taskQueues holds the three priority FIFO queues behind one admission cap.
// Only the coordinator touches it.
type taskQueues struct {
	qs    [numPriorities][]*task
	total int
	max   int
}

func newTaskQueues(maxDepth int) *taskQueues {
	return &taskQueues{max: maxDepth}
}

func (q *taskQueues) len() int { return q.total }

func (q *taskQueues) depth(p Priority) int { return len(q.qs[p]) }

// push appends to the tail of the task's priority queue, or fails when the
// total across all levels has reached the cap.
func (q *taskQueues) push(t *task) error {
	if q.total >= q.max {
		return ErrQueueFull
	}
	q.qs[t.priority] = append(q.qs[t.priority], t)
	q.total++
	return nil
}

// pushFront requeues a task at the head of its original priority queue.
// Used for crash replay and retry so the oldest work still runs first.
// Replays bypass the admission cap: the task was already admitted once.
func (q *taskQueues) pushFront(t *task) {
	q.qs[t.priority] = append([]*task{t}, q.qs[t.priority]...)
	q.total++
}

// next pops the head of the highest nonempty priority queue.
func (q *taskQueues) next() *task {
	for p := High; p < numPriorities; p++ {
		if len(q.qs[p]) == 0 {
			continue
		}
		t := q.qs[p][0]
		q.qs[p][0] = nil
		q.qs[p] = q.qs[p][1:]
		q.total--
		return t
	}
	return nil
}

// removeByID pulls a queued task out of its queue, preserving order.
// Returns nil if the id is not queued (in-flight or unknown).
func (q *taskQueues) removeByID(id uint64) *task {
	for p := High; p < numPriorities; p++ {
		for i, t := range q.qs[p] {
			if t.id != id {
				continue
			}
			q.qs[p] = append(q.qs[p][:i:i], q.qs[p][i+1:]...)
			q.total--
			return t
		}
	}
	return nil
}

// expire removes every queued task whose deadline has passed.
func (q *taskQueues) expire(now time.Time) []*task {
	var expired []*task
	for p := High; p < numPriorities; p++ {
		kept := q.qs[p][:0]
		for _, t := range q.qs[p] {
			if !t.deadline.IsZero() && now.After(t.deadline) {
				expired = append(expired, t)
				q.total--
				continue
			}
			kept = append(kept, t)
		}
		// Zero the tail so removed entries don't pin memory.
		for i := len(kept); i < len(q.qs[p]); i++ {
			q.qs[p][i] = nil
		}
		q.qs[p] = kept
	}
	return expired
}

// drain empties all queues, returning the removed tasks in priority order.
func (q *taskQueues) drain() []*task {
	var all []*task
	for p := High; p < numPriorities; p++ {
		all = append(all, q.qs[p]...)
		q.qs[p] = nil
	}
	q.total = 0
	return all
}
