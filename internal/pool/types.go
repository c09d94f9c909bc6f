package pool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority orders dispatch across the three admission queues.
type Priority int

const (
	High Priority = iota
	Normal
	Low

	numPriorities = 3
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a config string to a Priority. Empty means Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	case "low":
		return Low, nil
	default:
		return Normal, fmt.Errorf("unknown priority %q", s)
	}
}

// Runner executes one task payload. It is the external collaborator the pool
// coordinates; the pool never inspects payloads.
//
// Run must honor ctx cancellation: forced termination of a worker is
// cooperative, and a runner that ignores ctx leaks its goroutine.
type Runner interface {
	Run(ctx context.Context, payload any) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, payload any) (any, error)

func (f RunnerFunc) Run(ctx context.Context, payload any) (any, error) { return f(ctx, payload) }

// Config controls the pool.
//
// Zero fields take the defaults documented per field. CircuitWindow < 0
// disables the circuit breaker entirely.
type Config struct {
	// PoolSize is the number of worker slots. Default 4.
	PoolSize int

	// MaxQueueDepth caps total queued tasks across all priorities. Default 256.
	MaxQueueDepth int

	// HealthInterval is the liveness probe period. Default 5s.
	HealthInterval time.Duration
	// HealthMissThreshold is the number of consecutive missed acks before a
	// worker is declared unresponsive and replaced. Default 3.
	HealthMissThreshold int

	// MaxRestarts caps replacements per worker slot. A slot that exhausts its
	// budget stays dead and shows up as reduced capacity in Snapshot. Default 3.
	MaxRestarts int

	// DefaultRetries is the replay budget for tasks that don't override it.
	// Default 2.
	DefaultRetries int

	// Circuit breaker: rolling failure ratio over the last CircuitWindow
	// terminal outcomes. The ratio is only evaluated once the window is full.
	//
	// CircuitWindow default 10; < 0 disables the breaker.
	// CircuitFailureThreshold default 0.5.
	// CircuitCooldown default 30s, doubled on each reopen up to
	// CircuitMaxCooldown (default 5m).
	CircuitWindow           int
	CircuitFailureThreshold float64
	CircuitCooldown         time.Duration
	CircuitMaxCooldown      time.Duration

	// ShutdownTimeout is the default budget for Shutdown(0). Default 30s.
	ShutdownTimeout time.Duration

	// SubmitRatePerSec rate-limits Execute before it reaches the coordinator.
	// 0 disables limiting.
	SubmitRatePerSec int
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 256
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 5 * time.Second
	}
	if c.HealthMissThreshold <= 0 {
		c.HealthMissThreshold = 3
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.DefaultRetries < 0 {
		c.DefaultRetries = 0
	} else if c.DefaultRetries == 0 {
		c.DefaultRetries = 2
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = 10
	}
	if c.CircuitFailureThreshold <= 0 || c.CircuitFailureThreshold > 1 {
		c.CircuitFailureThreshold = 0.5
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = 30 * time.Second
	}
	if c.CircuitMaxCooldown <= 0 {
		c.CircuitMaxCooldown = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// TaskOptions overrides per-task behavior on ExecuteTask.
type TaskOptions struct {
	Priority Priority

	// Retries overrides the replay budget: 0 means pool default, < 0 means
	// no replay at all.
	Retries int

	// Timeout bounds how long the task may sit queued before it is dropped
	// with ErrTaskExpired. 0 disables the deadline. An expired in-flight task
	// is not interrupted; the worker keeps its result.
	Timeout time.Duration
}

// task is the coordinator-owned bookkeeping record for one submission.
// Payload is immutable; everything else is mutated only by the coordinator.
type task struct {
	id          uint64
	payload     any
	priority    Priority
	submittedAt time.Time
	deadline    time.Time // zero = none
	retriesLeft int
	attempts    int
	probe       bool // circuit breaker half-open probe
	fut         *Future
}

// WorkerState is the lifecycle state of one worker slot.
type WorkerState int

const (
	WorkerStarting WorkerState = iota
	WorkerIdle
	WorkerBusy
	WorkerDraining
	WorkerDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerDraining:
		return "draining"
	case WorkerDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitState is the admission-control state of the circuit breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("circuit(%d)", int(s))
	}
}

// ShutdownSummary reports how the pool wound down.
type ShutdownSummary struct {
	// Graceful counts workers that exited on their own within the budget.
	Graceful int
	// Forced counts workers force-terminated when the budget elapsed.
	Forced int
	// Abandoned counts tasks (queued or forfeited in-flight) rejected with
	// ErrShuttingDown.
	Abandoned int
}

// TaskEvent is the bus payload for task lifecycle events.
type TaskEvent struct {
	TaskID     uint64        `json:"task_id"`
	Priority   string        `json:"priority"`
	WorkerID   uint64        `json:"worker_id,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// WorkerEvent is the bus payload for worker lifecycle events.
type WorkerEvent struct {
	WorkerID     uint64 `json:"worker_id"`
	Slot         int    `json:"slot"`
	RestartCount int    `json:"restart_count"`
	Reason       string `json:"reason,omitempty"`
}

// CircuitEvent is the bus payload for breaker transitions.
type CircuitEvent struct {
	State        string  `json:"state"`
	FailureRatio float64 `json:"failure_ratio"`
}
