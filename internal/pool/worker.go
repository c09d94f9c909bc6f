package pool

import (
	"context"
	"fmt"
	"time"
)

const workerInboxSize = 8

// workerCmd is the tagged union of messages the coordinator sends a worker.
type workerCmd interface{ workerCmd() }

type cmdRun struct{ t *task }
type cmdPing struct{}
type cmdShutdown struct{}

func (cmdRun) workerCmd()      {}
func (cmdPing) workerCmd()     {}
func (cmdShutdown) workerCmd() {}

// workerMsg is the tagged union of messages a worker sends the coordinator.
// Every variant carries (workerID, slot) so stale messages from replaced
// workers can be discarded.
type workerMsg interface {
	from() (id uint64, slot int)
}

type msgStarted struct {
	workerID uint64
	slot     int
}

type msgPong struct {
	workerID uint64
	slot     int
}

type msgResult struct {
	workerID uint64
	slot     int
	taskID   uint64
	result   any
	err      error
	duration time.Duration
}

type msgExited struct {
	workerID uint64
	slot     int
	reason   error // nil on clean shutdown
}

func (m msgStarted) from() (uint64, int) { return m.workerID, m.slot }
func (m msgPong) from() (uint64, int)    { return m.workerID, m.slot }
func (m msgResult) from() (uint64, int)  { return m.workerID, m.slot }
func (m msgExited) from() (uint64, int)  { return m.workerID, m.slot }

// workerHandle is the coordinator-side record of one isolated execution unit.
// All fields are owned by the coordinator except inbox (written by the
// coordinator, read by the worker goroutine) and cancel.
type workerHandle struct {
	id   uint64
	slot int

	state       WorkerState
	currentTask *task

	restartCount   int
	lastHealthAck  time.Time
	missedAcks     int
	tasksCompleted uint64
	tasksFailed    uint64

	inbox  chan workerCmd
	cancel context.CancelFunc
}

// send delivers a command without ever blocking the coordinator. The inbox is
// sized so a dropped command can only be a redundant ping.
func (w *workerHandle) send(cmd workerCmd) bool {
	select {
	case w.inbox <- cmd:
		return true
	default:
		return false
	}
}

// dispatchEligible reports whether the dispatcher may assign a task.
func (w *workerHandle) dispatchEligible() bool {
	return w.state == WorkerIdle
}

// run is the worker goroutine. It announces liveness, then serves its inbox
// until shutdown or cancellation, reporting exactly one exit message.
//
// A runner panic is deliberately NOT recovered around the Run call itself:
// it unwinds to the deferred handler below and is reported as a crash, so the
// coordinator replays the in-flight task on a replacement worker.
func (p *Pool) runWorker(ctx context.Context, w *workerHandle, runner Runner) {
	var exitReason error
	defer func() {
		if r := recover(); r != nil {
			exitReason = fmt.Errorf("panic: %v", r)
		}
		p.sendMsg(msgExited{workerID: w.id, slot: w.slot, reason: exitReason})
	}()

	// First liveness signal: Starting -> Idle on the coordinator side.
	p.sendMsg(msgStarted{workerID: w.id, slot: w.slot})

	for {
		select {
		case <-ctx.Done():
			exitReason = ctx.Err()
			return
		case cmd := <-w.inbox:
			switch c := cmd.(type) {
			case cmdRun:
				start := time.Now()
				res, err := runner.Run(ctx, c.t.payload)
				p.sendMsg(msgResult{
					workerID: w.id,
					slot:     w.slot,
					taskID:   c.t.id,
					result:   res,
					err:      err,
					duration: time.Since(start),
				})
			case cmdPing:
				p.sendMsg(msgPong{workerID: w.id, slot: w.slot})
			case cmdShutdown:
				return
			}
		}
	}
}

// sendMsg delivers a worker message to the coordinator, giving up if the
// coordinator has already terminated so workers never block on exit.
func (p *Pool) sendMsg(m workerMsg) {
	select {
	case p.msgCh <- m:
	case <-p.termCh:
	}
}
