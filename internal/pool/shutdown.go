package pool

import (
	"time"

	"poold/internal/eventbus"
	"poold/pkg/logx"
)

// beginShutdown starts the graceful phase: the queue is abandoned, idle
// workers are told to exit, busy workers keep their current task. Returns
// the force-terminate deadline channel.
func (p *Pool) beginShutdown(timeout time.Duration) <-chan time.Time {
	p.drain = &drainState{}

	abandoned := p.queues.drain()
	p.drain.abandoned += len(abandoned)
	for _, t := range abandoned {
		t.fut.resolve(nil, ErrShuttingDown)
	}
	p.syncDepthGauges()

	busy := 0
	for _, w := range p.slots {
		if w == nil || w.state == WorkerDead {
			continue
		}
		switch w.state {
		case WorkerIdle, WorkerStarting:
			w.state = WorkerDraining
			if !w.send(cmdShutdown{}) {
				// Inbox full on an idle worker means it is wedged; count it
				// toward the forced phase.
				w.cancel()
			}
		case WorkerBusy:
			busy++
		}
	}

	p.log.Info("shutdown begun",
		logx.Int("busy_workers", busy),
		logx.Int("abandoned", p.drain.abandoned),
		logx.Duration("timeout", timeout),
	)
	p.publish(eventbus.TypeShutdownBegin, map[string]any{
		"busy_workers": busy,
		"abandoned":    p.drain.abandoned,
	})
	return time.After(timeout)
}

// forceShutdown ends the drain at the deadline: every worker still alive is
// cancelled and its in-flight task forfeited.
func (p *Pool) forceShutdown() {
	for _, w := range p.slots {
		if w == nil || w.state == WorkerDead {
			continue
		}
		if t := w.currentTask; t != nil {
			w.currentTask = nil
			p.met.busyWorkers.Add(-1)
			p.drain.abandoned++
			t.fut.resolve(nil, ErrShuttingDown)
		}
		w.state = WorkerDead
		w.cancel()
		p.liveWorkers--
		p.met.activeWorkers.Add(-1)
		p.drain.forced++
	}
	p.log.Warn("shutdown deadline reached, forcing termination",
		logx.Int("forced", p.drain.forced),
	)
	p.finishShutdown()
}

// finishShutdown publishes the summary and releases every caller blocked in
// Shutdown. It runs exactly once: both exit paths return from the run loop
// immediately after.
func (p *Pool) finishShutdown() {
	p.summary = ShutdownSummary{
		Graceful:  p.drain.graceful,
		Forced:    p.drain.forced,
		Abandoned: p.drain.abandoned,
	}
	p.running.Store(false)

	p.log.Info("pool stopped",
		logx.Int("graceful", p.summary.Graceful),
		logx.Int("forced", p.summary.Forced),
		logx.Int("abandoned", p.summary.Abandoned),
	)
	p.publish(eventbus.TypeShutdownComplete, p.summary)
	close(p.termCh)
}
