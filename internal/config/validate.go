package config

import (
	"fmt"
	"strings"
	"time"

	"poold/internal/pool"
)

// Validate checks the whole config the way Watch() needs it: everything a
// reload could reject must be caught here, before the new config is
// committed or published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := BuildPool(cfg.Pool); err != nil {
		return err
	}
	if err := validateScheduler(cfg.Scheduler); err != nil {
		return err
	}
	if err := validateHistory(cfg.History); err != nil {
		return err
	}
	if err := validateMetrics(cfg.Metrics); err != nil {
		return err
	}
	if _, err := ParseDurationField("daemon.watchdog_interval", cfg.Daemon.WatchdogInterval); err != nil {
		return err
	}
	return nil
}

// BuildPool resolves the pool section into runtime settings. Zero fields
// fall through to the pool package defaults.
func BuildPool(pc PoolConfig) (pool.Config, error) {
	var (
		out pool.Config
		err error
	)
	if pc.Workers < 0 {
		return out, fmt.Errorf("pool.workers: must be >= 0")
	}
	if pc.MaxQueueDepth < 0 {
		return out, fmt.Errorf("pool.max_queue_depth: must be >= 0")
	}
	out.PoolSize = pc.Workers
	out.MaxQueueDepth = pc.MaxQueueDepth
	out.HealthMissThreshold = pc.HealthMissThreshold
	out.MaxRestarts = pc.MaxRestarts
	out.SubmitRatePerSec = pc.SubmitRatePerSec

	if pc.DefaultRetries != nil {
		if *pc.DefaultRetries < 0 {
			return out, fmt.Errorf("pool.default_retries: must be >= 0")
		}
		out.DefaultRetries = *pc.DefaultRetries
		if out.DefaultRetries == 0 {
			out.DefaultRetries = -1 // explicit "no retries"
		}
	}

	if out.HealthInterval, err = ParseDurationField("pool.health_interval", pc.HealthInterval); err != nil {
		return out, err
	}
	if out.ShutdownTimeout, err = ParseDurationField("pool.shutdown_timeout", pc.ShutdownTimeout); err != nil {
		return out, err
	}

	cc := pc.Circuit
	out.CircuitWindow = cc.Window
	if cc.FailureThreshold < 0 || cc.FailureThreshold > 1 {
		return out, fmt.Errorf("pool.circuit.failure_threshold: must be in [0, 1]")
	}
	out.CircuitFailureThreshold = cc.FailureThreshold
	if out.CircuitCooldown, err = ParseDurationField("pool.circuit.cooldown", cc.Cooldown); err != nil {
		return out, err
	}
	if out.CircuitMaxCooldown, err = ParseDurationField("pool.circuit.max_cooldown", cc.MaxCooldown); err != nil {
		return out, err
	}
	return out, nil
}

func validateScheduler(sc SchedulerConfig) error {
	if sc.Timezone != "" {
		if _, err := time.LoadLocation(sc.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(sc.Jobs))
	for i, j := range sc.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("scheduler.jobs[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("scheduler.jobs[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Spec) == "" {
			return fmt.Errorf("scheduler.jobs[%d] %q: spec is required", i, name)
		}
		if p := strings.TrimSpace(j.Priority); p != "" {
			if _, err := pool.ParsePriority(p); err != nil {
				return fmt.Errorf("scheduler.jobs[%d] %q: %w", i, name, err)
			}
		}
		if j.Retries != nil && *j.Retries < 0 {
			return fmt.Errorf("scheduler.jobs[%d] %q: retries must be >= 0", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("scheduler.jobs[%d].timeout", i), j.Timeout); err != nil {
			return err
		}
	}
	return nil
}

func validateHistory(hc *HistoryConfig) error {
	if hc == nil {
		return nil
	}
	switch strings.TrimSpace(hc.Driver) {
	case "file", "sqlite":
	case "":
		return fmt.Errorf("history.driver: required when history is set")
	default:
		return fmt.Errorf("history.driver: unknown driver %q", hc.Driver)
	}
	if strings.TrimSpace(hc.Path) == "" {
		return fmt.Errorf("history.path: required when history is set")
	}
	if hc.Capacity < 0 {
		return fmt.Errorf("history.capacity: must be >= 0")
	}
	if _, err := ParseDurationField("history.busy_timeout", hc.BusyTimeout); err != nil {
		return err
	}
	return nil
}

func validateMetrics(mc MetricsConfig) error {
	for _, f := range []struct {
		path string
		raw  string
	}{
		{"metrics.poll_interval", mc.PollInterval},
		{"metrics.read_timeout", mc.ReadTimeout},
		{"metrics.write_timeout", mc.WriteTimeout},
		{"metrics.idle_timeout", mc.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
