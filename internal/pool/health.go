package pool

import (
	"errors"
	"time"

	"poold/pkg/logx"
)

var errHealthTimeout = errors.New("missed health checks")

// healthSweep runs on every health tick: it expires stale queued tasks,
// accounts missed acks, evicts unresponsive workers and pings the rest.
// Completed-task results count as acks, so a busy worker that is still
// producing output is never pinged into eviction.
func (p *Pool) healthSweep(now time.Time) {
	for _, t := range p.queues.expire(now) {
		p.expireTask(t)
	}
	p.syncDepthGauges()

	if p.drain != nil {
		return
	}

	for _, w := range p.slots {
		if w == nil || w.state == WorkerDead {
			continue
		}
		if now.Sub(w.lastHealthAck) > p.cfg.HealthInterval {
			w.missedAcks++
		}
		if w.missedAcks >= p.cfg.HealthMissThreshold {
			p.evict(w)
			continue
		}
		w.send(cmdPing{})
	}
}

// evict force-terminates an unresponsive worker and processes its exit
// immediately. The real exit message, if the goroutine ever wakes up, is
// discarded by the (id, slot) guard because the slot holds a replacement.
func (p *Pool) evict(w *workerHandle) {
	p.log.Warn("evicting unresponsive worker",
		logx.Uint64("worker", w.id),
		logx.Int("slot", w.slot),
		logx.Int("missed_acks", w.missedAcks),
	)
	p.handleExit(w, errHealthTimeout)
}
