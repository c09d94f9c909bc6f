package pool

import "errors"

var (
	// ErrNotRunning is returned when the pool has not been started or has
	// already fully stopped.
	ErrNotRunning = errors.New("pool not running")

	// ErrShuttingDown is returned for submissions made after Shutdown began,
	// and resolves the futures of tasks abandoned by shutdown.
	ErrShuttingDown = errors.New("pool shutting down")

	// ErrQueueFull is returned when total queued tasks would exceed
	// MaxQueueDepth. Fails fast; the caller decides whether to retry.
	ErrQueueFull = errors.New("task queue full")

	// ErrCircuitOpen is returned while the circuit breaker is open (or
	// half-open with its probe already in flight).
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrRateLimited is returned when the optional submission rate limiter
	// rejects a task before it reaches the coordinator.
	ErrRateLimited = errors.New("submission rate limit exceeded")

	// ErrTaskExpired resolves the future of a queued task whose deadline
	// passed before dispatch.
	ErrTaskExpired = errors.New("task deadline expired before dispatch")

	// ErrWorkerCrashed resolves the future of a task whose worker died with
	// no replay budget left.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrCancelled resolves the future of a task removed via Cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrNotQueued is returned by Cancel when the task is unknown or already
	// dispatched. In-flight tasks can only be stopped by killing their worker.
	ErrNotQueued = errors.New("task not queued")
)
