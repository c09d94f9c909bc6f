package pool

import (
	"fmt"
	"time"

	"poold/internal/eventbus"
	"poold/pkg/logx"
)

// handleSubmit is the admission path: draining, capacity, then breaker.
// Ordering matters: the breaker probe must not be claimed by a submission
// that the queue would reject anyway.
func (p *Pool) handleSubmit(req *submitReq) {
	now := time.Now()

	if p.drain != nil {
		p.met.rejected.Add(1)
		req.reply <- submitResp{err: ErrShuttingDown}
		return
	}
	if p.queues.len() >= p.cfg.MaxQueueDepth {
		p.met.rejected.Add(1)
		req.reply <- submitResp{err: ErrQueueFull}
		return
	}

	probe, err := p.brk.admit(now)
	p.publishCircuit(p.brk.currentState())
	if err != nil {
		p.met.rejected.Add(1)
		req.reply <- submitResp{err: err}
		return
	}

	retries := p.cfg.DefaultRetries
	if req.opt.Retries > 0 {
		retries = req.opt.Retries
	} else if req.opt.Retries < 0 {
		retries = 0
	}

	p.nextTaskID++
	t := &task{
		id:          p.nextTaskID,
		payload:     req.payload,
		priority:    req.opt.Priority,
		submittedAt: now,
		retriesLeft: retries,
		probe:       probe,
		fut:         newFuture(p.nextTaskID),
	}
	if req.opt.Timeout > 0 {
		t.deadline = now.Add(req.opt.Timeout)
	}

	if err := p.queues.push(t); err != nil {
		p.met.rejected.Add(1)
		req.reply <- submitResp{err: err}
		return
	}
	p.syncDepthGauges()

	req.reply <- submitResp{fut: t.fut}
	p.dispatch()
}

func (p *Pool) handleCancel(req *cancelReq) {
	t := p.queues.removeByID(req.taskID)
	if t == nil {
		req.reply <- ErrNotQueued
		return
	}
	p.met.cancelled.Add(1)
	p.brk.release(t.probe)
	p.syncDepthGauges()
	t.fut.resolve(nil, ErrCancelled)
	req.reply <- nil
}

// dispatch matches idle workers to queued tasks. It runs whenever a task is
// queued or a worker becomes idle, always inside the coordinator, so the
// Busy transition and currentTask assignment are atomic: no task is ever
// delivered twice and no worker ever holds two tasks.
func (p *Pool) dispatch() {
	for {
		w := p.nextIdleWorker()
		if w == nil {
			break
		}
		t := p.dequeueDispatchable(time.Now())
		if t == nil {
			break
		}

		w.state = WorkerBusy
		w.currentTask = t
		t.attempts++
		p.met.busyWorkers.Add(1)

		if !w.send(cmdRun{t: t}) {
			// Inbox full cannot normally happen for an idle worker; back out
			// and let the next trigger retry.
			w.state = WorkerIdle
			w.currentTask = nil
			p.met.busyWorkers.Add(-1)
			p.queues.pushFront(t)
			break
		}
	}
	p.syncDepthGauges()
}

// nextIdleWorker scans slots round-robin from the cursor.
func (p *Pool) nextIdleWorker() *workerHandle {
	n := len(p.slots)
	for i := 0; i < n; i++ {
		w := p.slots[(p.rrCursor+i)%n]
		if w != nil && w.dispatchEligible() {
			p.rrCursor = (p.rrCursor + i + 1) % n
			return w
		}
	}
	return nil
}

// dequeueDispatchable pops the next runnable task, rejecting any whose
// deadline expired while queued.
func (p *Pool) dequeueDispatchable(now time.Time) *task {
	for {
		t := p.queues.next()
		if t == nil {
			return nil
		}
		if !t.deadline.IsZero() && now.After(t.deadline) {
			p.expireTask(t)
			continue
		}
		return t
	}
}

func (p *Pool) expireTask(t *task) {
	p.met.expired.Add(1)
	p.brk.release(t.probe)
	t.fut.resolve(nil, ErrTaskExpired)
	p.publish(eventbus.TypeTaskExpired, TaskEvent{
		TaskID:     t.id,
		Priority:   t.priority.String(),
		QueueDelay: time.Since(t.submittedAt),
		Attempts:   t.attempts,
		Error:      ErrTaskExpired.Error(),
	})
	p.log.Debug("task expired in queue", logx.Uint64("task", t.id), logx.String("priority", t.priority.String()))
}

func (p *Pool) handleMsg(m workerMsg) {
	id, slot := m.from()
	if slot < 0 || slot >= len(p.slots) {
		return
	}
	w := p.slots[slot]
	if w == nil || w.id != id {
		// Stale message from a replaced or evicted worker.
		return
	}

	switch msg := m.(type) {
	case msgStarted:
		w.lastHealthAck = time.Now()
		w.missedAcks = 0
		if w.state == WorkerStarting {
			if p.drain != nil {
				w.state = WorkerDraining
				w.send(cmdShutdown{})
				return
			}
			w.state = WorkerIdle
			p.dispatch()
		}
	case msgPong:
		w.lastHealthAck = time.Now()
		w.missedAcks = 0
	case msgResult:
		p.handleResult(w, msg)
	case msgExited:
		p.handleExit(w, msg.reason)
	}
}

func (p *Pool) handleResult(w *workerHandle, m msgResult) {
	now := time.Now()
	w.lastHealthAck = now
	w.missedAcks = 0

	t := w.currentTask
	if t == nil || t.id != m.taskID {
		return
	}
	w.currentTask = nil
	p.met.busyWorkers.Add(-1)

	if m.err == nil {
		w.tasksCompleted++
		p.met.recordCompleted(m.duration)
		p.publishCircuit(p.brk.record(now, t.probe, false))
		t.fut.resolve(m.result, nil)
		p.publish(eventbus.TypeTaskCompleted, TaskEvent{
			TaskID:   t.id,
			Priority: t.priority.String(),
			WorkerID: w.id,
			Duration: m.duration,
			Attempts: t.attempts,
		})
		p.log.Debug("task completed",
			logx.Uint64("task", t.id),
			logx.Uint64("worker", w.id),
			logx.Duration("dur", m.duration),
			logx.Int("attempts", t.attempts),
		)
	} else if t.retriesLeft > 0 && p.drain == nil {
		t.retriesLeft--
		p.met.retried.Add(1)
		p.queues.pushFront(t)
		p.publish(eventbus.TypeTaskRetried, TaskEvent{
			TaskID:   t.id,
			Priority: t.priority.String(),
			WorkerID: w.id,
			Duration: m.duration,
			Attempts: t.attempts,
			Error:    m.err.Error(),
		})
		p.log.Debug("task failed, replaying",
			logx.Uint64("task", t.id),
			logx.Int("retries_left", t.retriesLeft),
			logx.Any("err", m.err),
		)
	} else {
		w.tasksFailed++
		p.met.recordFailed(m.duration)
		p.publishCircuit(p.brk.record(now, t.probe, true))
		t.fut.resolve(nil, m.err)
		p.publish(eventbus.TypeTaskFailed, TaskEvent{
			TaskID:   t.id,
			Priority: t.priority.String(),
			WorkerID: w.id,
			Duration: m.duration,
			Attempts: t.attempts,
			Error:    m.err.Error(),
		})
		p.log.Warn("task failed",
			logx.Uint64("task", t.id),
			logx.Uint64("worker", w.id),
			logx.Int("attempts", t.attempts),
			logx.Any("err", m.err),
		)
	}

	if p.drain != nil {
		w.state = WorkerDraining
		w.send(cmdShutdown{})
		return
	}
	w.state = WorkerIdle
	p.dispatch()
}

// crashError wraps the exit reason under ErrWorkerCrashed so callers can
// match with errors.Is.
func crashError(reason error) error {
	if reason == nil {
		return ErrWorkerCrashed
	}
	return fmt.Errorf("%w: %v", ErrWorkerCrashed, reason)
}
