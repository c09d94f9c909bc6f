package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"poold/internal/eventbus"
	logx "poold/pkg/logx"
)

// Pool is the public facade. Submission, stats and shutdown are safe for
// concurrent use; everything behind the channels is owned by the single
// coordinator goroutine.
type Pool struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner

	limiter *rate.Limiter
	met     *metrics

	running  atomic.Bool
	draining atomic.Bool

	submitCh   chan *submitReq
	cancelCh   chan *cancelReq
	shutdownCh chan shutdownReq
	msgCh      chan workerMsg

	// termCh closes when the coordinator exits; summary is written before
	// the close, so readers of termCh observe it safely.
	termCh  chan struct{}
	summary ShutdownSummary

	// Coordinator-owned state. Never touched outside the run loop (Start
	// seeds the slots before the loop goroutine launches).
	queues       *taskQueues
	slots        []*workerHandle
	brk          *breaker
	drain        *drainState
	liveWorkers  int
	rrCursor     int
	nextTaskID   uint64
	nextWorkerID uint64
	lastCircuit  CircuitState
}

type submitReq struct {
	payload any
	opt     TaskOptions
	reply   chan submitResp
}

type submitResp struct {
	fut *Future
	err error
}

type cancelReq struct {
	taskID uint64
	reply  chan error
}

type shutdownReq struct {
	timeout time.Duration
}

type drainState struct {
	graceful  int
	forced    int
	abandoned int
}

// New builds a pool around the given runner. The runner executes every task;
// the pool never interprets payloads.
func New(cfg Config, runner Runner, log logx.Logger, bus eventbus.Bus) *Pool {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pool{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		runner:     runner,
		met:        &metrics{},
		submitCh:   make(chan *submitReq),
		cancelCh:   make(chan *cancelReq),
		shutdownCh: make(chan shutdownReq, 1),
		msgCh:      make(chan workerMsg, cfg.PoolSize*4+16),
		termCh:     make(chan struct{}),
		queues:     newTaskQueues(cfg.MaxQueueDepth),
		slots:      make([]*workerHandle, cfg.PoolSize),
	}
	p.brk = newBreaker(cfg)
	if cfg.SubmitRatePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), cfg.SubmitRatePerSec)
	}
	return p
}

// Start launches the workers and the coordinator. ctx cancellation begins a
// graceful shutdown with the configured default timeout.
func (p *Pool) Start(ctx context.Context) error {
	if p.runner == nil {
		return errors.New("pool: runner is required")
	}
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pool: already started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for slot := range p.slots {
		p.createWorker(slot, 0)
	}
	p.met.setCircuit(CircuitClosed)

	go p.run(ctx)

	p.log.Info("pool started",
		logx.Int("workers", p.cfg.PoolSize),
		logx.Int("max_queue_depth", p.cfg.MaxQueueDepth),
		logx.Duration("health_interval", p.cfg.HealthInterval),
	)
	return nil
}

// Execute submits a payload at the given priority. Admission failures
// (ErrQueueFull, ErrCircuitOpen, ErrShuttingDown, ErrRateLimited) are
// returned synchronously; everything later resolves through the Future.
func (p *Pool) Execute(payload any, priority Priority) (*Future, error) {
	return p.ExecuteTask(payload, TaskOptions{Priority: priority})
}

// ExecuteTask is Execute with per-task overrides.
func (p *Pool) ExecuteTask(payload any, opt TaskOptions) (*Future, error) {
	if !p.running.Load() {
		return nil, ErrNotRunning
	}
	if p.draining.Load() {
		return nil, ErrShuttingDown
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.met.rejected.Add(1)
		return nil, ErrRateLimited
	}

	req := &submitReq{payload: payload, opt: opt, reply: make(chan submitResp, 1)}
	select {
	case p.submitCh <- req:
	case <-p.termCh:
		return nil, ErrShuttingDown
	}
	select {
	case resp := <-req.reply:
		return resp.fut, resp.err
	case <-p.termCh:
		return nil, ErrShuttingDown
	}
}

// Cancel removes a queued task; its future resolves with ErrCancelled.
// Tasks already handed to a worker return ErrNotQueued: in-flight work can
// only be stopped by killing its worker.
func (p *Pool) Cancel(taskID uint64) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	req := &cancelReq{taskID: taskID, reply: make(chan error, 1)}
	select {
	case p.cancelCh <- req:
	case <-p.termCh:
		return ErrNotRunning
	}
	select {
	case err := <-req.reply:
		return err
	case <-p.termCh:
		return ErrNotRunning
	}
}

// Stats returns a point-in-time metrics snapshot without blocking the
// coordinator.
func (p *Pool) Stats() Snapshot { return p.met.snapshot() }

// Shutdown drains the pool: new submissions fail with ErrShuttingDown,
// queued tasks are abandoned, workers finish their current task and exit.
// Workers still busy when the budget elapses are force-terminated and their
// tasks forfeited. timeout <= 0 uses the configured default.
//
// Concurrent and repeated calls are safe; all return the same summary.
func (p *Pool) Shutdown(timeout time.Duration) ShutdownSummary {
	select {
	case <-p.termCh:
		return p.summary
	default:
	}
	if !p.running.Load() {
		return ShutdownSummary{}
	}
	if timeout <= 0 {
		timeout = p.cfg.ShutdownTimeout
	}
	if p.draining.CompareAndSwap(false, true) {
		select {
		case p.shutdownCh <- shutdownReq{timeout: timeout}:
		case <-p.termCh:
		}
	}
	<-p.termCh
	return p.summary
}

// run is the coordinator: the only goroutine that mutates pool state.
func (p *Pool) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	var timeoutCh <-chan time.Time

	for {
		select {
		case req := <-p.submitCh:
			p.handleSubmit(req)
		case req := <-p.cancelCh:
			p.handleCancel(req)
		case req := <-p.shutdownCh:
			timeoutCh = p.beginShutdown(req.timeout)
		case m := <-p.msgCh:
			p.handleMsg(m)
		case now := <-ticker.C:
			p.healthSweep(now)
		case <-timeoutCh:
			p.forceShutdown()
			return
		case <-ctxDone:
			ctxDone = nil
			if p.drain == nil {
				p.draining.Store(true)
				timeoutCh = p.beginShutdown(p.cfg.ShutdownTimeout)
			}
		}

		if p.drain != nil && p.liveWorkers == 0 {
			p.finishShutdown()
			return
		}
	}
}

func (p *Pool) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// publishCircuit records a breaker transition exactly once per state change.
func (p *Pool) publishCircuit(s CircuitState) {
	if s == p.lastCircuit {
		return
	}
	p.lastCircuit = s
	p.met.setCircuit(s)

	var typ string
	switch s {
	case CircuitOpen:
		typ = eventbus.TypeCircuitOpen
		p.log.Warn("circuit opened", logx.Float64("failure_ratio", p.brk.ratio()))
	case CircuitHalfOpen:
		typ = eventbus.TypeCircuitHalfOpen
		p.log.Info("circuit half-open, admitting probe")
	case CircuitClosed:
		typ = eventbus.TypeCircuitClosed
		p.log.Info("circuit closed")
	}
	p.publish(typ, CircuitEvent{State: s.String(), FailureRatio: p.brk.ratio()})
}

func (p *Pool) syncDepthGauges() {
	for pr := High; pr < numPriorities; pr++ {
		p.met.setQueueDepth(pr, p.queues.depth(pr))
	}
}
