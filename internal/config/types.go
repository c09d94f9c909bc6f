package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Pool    PoolConfig    `json:"pool"`

	// Scheduler defines recurring jobs submitted into the pool.
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// History controls the optional finished-task record store.
	// Nil means disabled.
	History *HistoryConfig `json:"history,omitempty"`

	Metrics MetricsConfig `json:"metrics,omitempty"`
	Daemon  DaemonConfig  `json:"daemon,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PoolConfig controls the worker pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - max_queue_depth: 256
//   - health_interval: "5s"
//   - health_miss_threshold: 3
//   - max_restarts: 3
//   - default_retries: 2
//   - shutdown_timeout: "30s"
//   - submit_rate_per_sec: 0 (disabled)
type PoolConfig struct {
	Workers             int    `json:"workers,omitempty"`
	MaxQueueDepth       int    `json:"max_queue_depth,omitempty"`
	HealthInterval      string `json:"health_interval,omitempty"`
	HealthMissThreshold int    `json:"health_miss_threshold,omitempty"`
	MaxRestarts         int    `json:"max_restarts,omitempty"`

	// DefaultRetries is a pointer so "omitted" (use the built-in default)
	// can be told apart from an explicit 0 (no retries).
	DefaultRetries *int `json:"default_retries,omitempty"`

	ShutdownTimeout  string `json:"shutdown_timeout,omitempty"`
	SubmitRatePerSec int    `json:"submit_rate_per_sec,omitempty"`

	Circuit CircuitConfig `json:"circuit,omitempty"`
}

// CircuitConfig controls the failure-ratio circuit breaker.
//
// Defaults: window 10, failure_threshold 0.5, cooldown "30s",
// max_cooldown "5m". Set window to -1 to disable the breaker.
type CircuitConfig struct {
	Window           int     `json:"window,omitempty"`
	FailureThreshold float64 `json:"failure_threshold,omitempty"`
	Cooldown         string  `json:"cooldown,omitempty"`
	MaxCooldown      string  `json:"max_cooldown,omitempty"`
}

// SchedulerConfig defines trigger-driven job submission.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`
}

// JobConfig is one recurring submission.
//
// Spec accepts standard 5-field cron expressions ("*/5 * * * *"),
// @every intervals ("@every 30s") and the @hourly/@daily shortcuts.
type JobConfig struct {
	Name     string          `json:"name"`
	Spec     string          `json:"spec"`
	Priority string          `json:"priority,omitempty"` // high | normal | low
	Payload  json.RawMessage `json:"payload,omitempty"`
	Retries  *int            `json:"retries,omitempty"`
	Timeout  string          `json:"timeout,omitempty"`
}

// HistoryConfig controls where finished-task records go.
//
// Example:
//
//	"history": { "driver": "file", "path": "./poold_history" }
type HistoryConfig struct {
	Driver      string `json:"driver"` // file | sqlite
	Path        string `json:"path"`
	Capacity    int    `json:"capacity,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer binding to localhost unless the host firewall covers the port.
type MetricsConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`          // default: "127.0.0.1:9090"
	PollInterval string `json:"poll_interval,omitempty"` // default: "5s"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DaemonConfig controls process-level behavior under systemd.
type DaemonConfig struct {
	// WatchdogInterval overrides the interval derived from WATCHDOG_USEC.
	// Usually left empty.
	WatchdogInterval string `json:"watchdog_interval,omitempty"`
}

// UnmarshalJSON disallows unknown fields so renamed or removed keys are
// caught during reload instead of being silently ignored.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Name     string          `json:"name"`
		Spec     string          `json:"spec"`
		Priority string          `json:"priority,omitempty"`
		Payload  json.RawMessage `json:"payload,omitempty"`
		Retries  *int            `json:"retries,omitempty"`
		Timeout  string          `json:"timeout,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*j = JobConfig(t)
	return nil
}
