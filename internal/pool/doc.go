// Package pool implements a prioritized worker-pool task scheduler.
//
// A single coordinator goroutine owns all mutable pool state (queues, worker
// registry, circuit breaker). Workers are isolated goroutines that receive
// commands over a per-worker inbox and report back over a shared message
// channel. Submission returns a Future that resolves exactly once with the
// task's result or a typed error.
//
// Dispatch is strict-priority: High before Normal before Low, FIFO within a
// level. Sustained High load can therefore starve Low tasks; that is a
// documented tradeoff, not a defect.
package pool
