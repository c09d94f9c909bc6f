package pool

import (
	"context"
	"time"

	"poold/internal/eventbus"
	"poold/pkg/logx"
)

// createWorker installs a fresh worker goroutine into slot. The worker's
// context is derived from Background, not the pool context: workers die only
// when the pool decides so, and external cancellation is routed through the
// drain path instead.
func (p *Pool) createWorker(slot, restartCount int) {
	p.nextWorkerID++
	ctx, cancel := context.WithCancel(context.Background())
	w := &workerHandle{
		id:            p.nextWorkerID,
		slot:          slot,
		state:         WorkerStarting,
		restartCount:  restartCount,
		lastHealthAck: time.Now(),
		inbox:         make(chan workerCmd, workerInboxSize),
		cancel:        cancel,
	}
	p.slots[slot] = w
	p.liveWorkers++
	p.met.activeWorkers.Add(1)

	go p.runWorker(ctx, w, p.runner)

	typ := eventbus.TypeWorkerStarted
	if restartCount > 0 {
		typ = eventbus.TypeWorkerRestarted
		p.log.Info("worker restarted",
			logx.Uint64("worker", w.id),
			logx.Int("slot", slot),
			logx.Int("restarts", restartCount),
		)
	}
	p.publish(typ, WorkerEvent{WorkerID: w.id, Slot: slot, RestartCount: restartCount})
}

// handleExit processes a worker's one exit message, or an eviction
// synthesized by the health sweep. reason nil means a clean shutdown.
func (p *Pool) handleExit(w *workerHandle, reason error) {
	if w.state == WorkerDead {
		return
	}
	wasDraining := w.state == WorkerDraining
	w.state = WorkerDead
	w.cancel()
	p.liveWorkers--
	p.met.activeWorkers.Add(-1)

	// A crash with a task in flight: replay it at the head of its queue so
	// it runs next, or surface the crash if its retry budget is spent.
	if t := w.currentTask; t != nil {
		w.currentTask = nil
		p.met.busyWorkers.Add(-1)
		if t.retriesLeft > 0 && p.drain == nil {
			t.retriesLeft--
			p.met.retried.Add(1)
			p.queues.pushFront(t)
			p.publish(eventbus.TypeTaskRetried, TaskEvent{
				TaskID:   t.id,
				Priority: t.priority.String(),
				WorkerID: w.id,
				Attempts: t.attempts,
				Error:    crashError(reason).Error(),
			})
		} else {
			err := crashError(reason)
			p.met.recordFailed(0)
			p.publishCircuit(p.brk.record(time.Now(), t.probe, true))
			t.fut.resolve(nil, err)
			p.publish(eventbus.TypeTaskFailed, TaskEvent{
				TaskID:   t.id,
				Priority: t.priority.String(),
				WorkerID: w.id,
				Attempts: t.attempts,
				Error:    err.Error(),
			})
		}
	}

	if p.drain != nil {
		if reason == nil || wasDraining {
			p.drain.graceful++
		} else {
			p.drain.forced++
		}
		return
	}

	if reason == nil {
		// Clean exit outside a drain should not happen; treat the slot as
		// retired without a replacement.
		p.met.deadSlots.Add(1)
		return
	}

	p.log.Warn("worker exited",
		logx.Uint64("worker", w.id),
		logx.Int("slot", w.slot),
		logx.Int("restarts", w.restartCount),
		logx.Err(reason),
	)

	if w.restartCount < p.cfg.MaxRestarts {
		p.createWorker(w.slot, w.restartCount+1)
	} else {
		p.met.deadSlots.Add(1)
		p.log.Error("worker slot exhausted restart budget, marking dead",
			logx.Int("slot", w.slot),
			logx.Int("restarts", w.restartCount),
		)
		p.publish(eventbus.TypeWorkerDead, WorkerEvent{
			WorkerID:     w.id,
			Slot:         w.slot,
			RestartCount: w.restartCount,
			Reason:       reason.Error(),
		})
	}

	p.dispatch()
}
