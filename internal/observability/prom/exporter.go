// Package prom exports pool metrics snapshots to Prometheus.
package prom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"poold/internal/pool"
)

// SnapshotProvider provides current pool stats snapshots.
type SnapshotProvider interface {
	Stats() pool.Snapshot
}

// Poller periodically exports pool Stats() snapshots into Prometheus gauges.
// Counters are exported as snapshot gauges: the pool already accumulates
// them, so re-counting on the Prometheus side would double the bookkeeping.
type Poller struct {
	interval time.Duration
	provider SnapshotProvider

	completed *prom.GaugeVec
	rejected  prom.Gauge
	cancelled prom.Gauge

	avgDuration prom.Gauge
	latency     *prom.GaugeVec

	activeWorkers prom.Gauge
	busyWorkers   prom.Gauge
	deadSlots     prom.Gauge
	queueDepth    *prom.GaugeVec
	circuitState  *prom.GaugeVec

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller and registers its collectors.
func NewPoller(reg prom.Registerer, provider SnapshotProvider, interval time.Duration) (*Poller, error) {
	if provider == nil {
		return nil, errors.New("snapshot provider required")
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	const ns = "poold"

	completed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "tasks_total",
		Help:      "Lifetime task outcomes by status.",
	}, []string{"status"})
	rejected := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "tasks_rejected_total",
		Help:      "Lifetime rejected submissions (queue full, circuit open, rate limited).",
	})
	cancelled := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "tasks_cancelled_total",
		Help:      "Lifetime cancelled queued tasks.",
	})
	avgDuration := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "task_avg_duration_seconds",
		Help:      "Mean execution duration of completed tasks.",
	})
	latency := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "task_duration_bucket",
		Help:      "Completion latency distribution (cumulative-style fixed buckets).",
	}, []string{"le"})
	activeWorkers := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "workers_active",
		Help:      "Live (non-dead) workers.",
	})
	busyWorkers := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "workers_busy",
		Help:      "Workers currently executing a task.",
	})
	deadSlots := prom.NewGauge(prom.GaugeOpts{
		Namespace: ns,
		Name:      "worker_slots_dead",
		Help:      "Worker slots pinned at their restart budget.",
	})
	queueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "queue_depth",
		Help:      "Queued tasks per priority.",
	}, []string{"priority"})
	circuitState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: ns,
		Name:      "circuit_state",
		Help:      "Circuit breaker state (1 for the active state, 0 otherwise).",
	}, []string{"state"})

	var err error
	if completed, err = registerCollector(reg, completed); err != nil {
		return nil, err
	}
	if rejected, err = registerCollector(reg, rejected); err != nil {
		return nil, err
	}
	if cancelled, err = registerCollector(reg, cancelled); err != nil {
		return nil, err
	}
	if avgDuration, err = registerCollector(reg, avgDuration); err != nil {
		return nil, err
	}
	if latency, err = registerCollector(reg, latency); err != nil {
		return nil, err
	}
	if activeWorkers, err = registerCollector(reg, activeWorkers); err != nil {
		return nil, err
	}
	if busyWorkers, err = registerCollector(reg, busyWorkers); err != nil {
		return nil, err
	}
	if deadSlots, err = registerCollector(reg, deadSlots); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if circuitState, err = registerCollector(reg, circuitState); err != nil {
		return nil, err
	}

	return &Poller{
		interval:      interval,
		provider:      provider,
		completed:     completed,
		rejected:      rejected,
		cancelled:     cancelled,
		avgDuration:   avgDuration,
		latency:       latency,
		activeWorkers: activeWorkers,
		busyWorkers:   busyWorkers,
		deadSlots:     deadSlots,
		queueDepth:    queueDepth,
		circuitState:  circuitState,
	}, nil
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *Poller) collectOnce() {
	s := p.provider.Stats()

	p.completed.WithLabelValues("completed").Set(float64(s.Completed))
	p.completed.WithLabelValues("failed").Set(float64(s.Failed))
	p.completed.WithLabelValues("retried").Set(float64(s.Retried))
	p.completed.WithLabelValues("expired").Set(float64(s.Expired))
	p.rejected.Set(float64(s.Rejected))
	p.cancelled.Set(float64(s.Cancelled))

	p.avgDuration.Set(s.AvgDuration.Seconds())
	cum := uint64(0)
	for _, b := range s.Latency {
		cum += b.Count
		le := "+Inf"
		if b.UpperBound > 0 {
			le = strconv.FormatFloat(b.UpperBound.Seconds(), 'g', -1, 64)
		}
		p.latency.WithLabelValues(le).Set(float64(cum))
	}

	p.activeWorkers.Set(float64(s.ActiveWorkers))
	p.busyWorkers.Set(float64(s.BusyWorkers))
	p.deadSlots.Set(float64(s.DeadSlots))
	for prio, depth := range s.QueueDepth {
		p.queueDepth.WithLabelValues(prio).Set(float64(depth))
	}
	for _, st := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if st == s.Circuit {
			v = 1.0
		}
		p.circuitState.WithLabelValues(st).Set(v)
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}
	return collector, err
}
