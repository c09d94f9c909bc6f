package config

import (
	"reflect"
	"sort"
	"strings"

	logx "poold/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections, (2) safe
// structured attrs for logging, and (3) the names of scheduler jobs that
// were added, removed or modified.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Pool
	if !reflect.DeepEqual(oldCfg.Pool, newCfg.Pool) {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.workers", newCfg.Pool.Workers),
			logx.Int("pool.max_queue_depth", newCfg.Pool.MaxQueueDepth),
			logx.Int("pool.max_restarts", newCfg.Pool.MaxRestarts),
			logx.Int("pool.circuit_window", newCfg.Pool.Circuit.Window),
		)
	}

	// Scheduler
	jobsChanged := diffJobs(oldCfg.Scheduler.Jobs, newCfg.Scheduler.Jobs)
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) ||
		len(jobsChanged) > 0 {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.jobs", len(newCfg.Scheduler.Jobs)),
			logx.Int("scheduler.jobs_changed", len(jobsChanged)),
		)
	}

	// History. Nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.History != nil {
		oDriver = strings.TrimSpace(oldCfg.History.Driver)
		oPathSet = strings.TrimSpace(oldCfg.History.Path) != ""
	}
	if newCfg.History != nil {
		nDriver = strings.TrimSpace(newCfg.History.Driver)
		nPathSet = strings.TrimSpace(newCfg.History.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet ||
		!reflect.DeepEqual(oldCfg.History, newCfg.History) {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", nDriver),
			logx.Bool("history.path_set", nPathSet),
		)
	}

	// Metrics
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	// Daemon
	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs,
			logx.String("daemon.watchdog_interval", strings.TrimSpace(newCfg.Daemon.WatchdogInterval)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobsChanged
}

func diffJobs(oldJ, newJ []JobConfig) []string {
	oldM := make(map[string]JobConfig, len(oldJ))
	for _, j := range oldJ {
		oldM[j.Name] = j
	}
	newM := make(map[string]JobConfig, len(newJ))
	for _, j := range newJ {
		newM[j.Name] = j
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
