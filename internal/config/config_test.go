package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"pool": {
			"workers": 8,
			"max_queue_depth": 100,
			"health_interval": "2s",
			"default_retries": 1,
			"circuit": {"window": 20, "failure_threshold": 0.6, "cooldown": "10s"}
		},
		"scheduler": {
			"enabled": true,
			"jobs": [{"name": "cleanup", "spec": "@daily", "priority": "low"}]
		},
		"history": {"driver": "file", "path": "./history"}
	}`)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Pool.Workers != 8 || cfg.Pool.MaxQueueDepth != 100 {
		t.Fatalf("pool = %+v", cfg.Pool)
	}
	if cfg.Pool.DefaultRetries == nil || *cfg.Pool.DefaultRetries != 1 {
		t.Fatalf("default_retries = %v", cfg.Pool.DefaultRetries)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Name != "cleanup" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.History == nil || cfg.History.Driver != "file" {
		t.Fatalf("history = %+v", cfg.History)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed config")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
logging:
  level: info
pool:
  workers: 2
  health_interval: 10s
scheduler:
  enabled: true
  timezone: UTC
  jobs:
    - name: report
      spec: "*/5 * * * *"
      priority: high
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.Workers != 2 || cfg.Pool.HealthInterval != "10s" {
		t.Fatalf("pool = %+v", cfg.Pool)
	}
	if cfg.Scheduler.Timezone != "UTC" || cfg.Scheduler.Jobs[0].Priority != "high" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"pool": {"wrokers": 4}}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}

	m = writeConfig(t, "config.json", `{"scheduler": {"jobs": [{"name": "a", "spec": "1m", "prio": "high"}]}}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown job field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"pool": {}} {"pool": {}}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestBuildPool(t *testing.T) {
	t.Parallel()

	t.Run("full mapping", func(t *testing.T) {
		retries := 5
		pc := PoolConfig{
			Workers:             6,
			MaxQueueDepth:       50,
			HealthInterval:      "2s",
			HealthMissThreshold: 4,
			MaxRestarts:         1,
			DefaultRetries:      &retries,
			ShutdownTimeout:     "15s",
			SubmitRatePerSec:    10,
			Circuit: CircuitConfig{
				Window:           8,
				FailureThreshold: 0.75,
				Cooldown:         "5s",
				MaxCooldown:      "1m",
			},
		}
		out, err := BuildPool(pc)
		if err != nil {
			t.Fatalf("BuildPool: %v", err)
		}
		if out.PoolSize != 6 || out.MaxQueueDepth != 50 || out.DefaultRetries != 5 {
			t.Fatalf("out = %+v", out)
		}
		if out.HealthInterval != 2*time.Second || out.ShutdownTimeout != 15*time.Second {
			t.Fatalf("durations = %v / %v", out.HealthInterval, out.ShutdownTimeout)
		}
		if out.CircuitWindow != 8 || out.CircuitFailureThreshold != 0.75 ||
			out.CircuitCooldown != 5*time.Second || out.CircuitMaxCooldown != time.Minute {
			t.Fatalf("circuit = %+v", out)
		}
	})

	t.Run("explicit zero retries disables replay", func(t *testing.T) {
		zero := 0
		out, err := BuildPool(PoolConfig{DefaultRetries: &zero})
		if err != nil {
			t.Fatalf("BuildPool: %v", err)
		}
		if out.DefaultRetries != -1 {
			t.Fatalf("DefaultRetries = %d, want -1", out.DefaultRetries)
		}
	})

	t.Run("omitted retries keeps the built-in default", func(t *testing.T) {
		out, err := BuildPool(PoolConfig{})
		if err != nil {
			t.Fatalf("BuildPool: %v", err)
		}
		if out.DefaultRetries != 0 {
			t.Fatalf("DefaultRetries = %d, want 0 (defer to pool)", out.DefaultRetries)
		}
	})

	t.Run("rejects bad values", func(t *testing.T) {
		cases := []PoolConfig{
			{Workers: -1},
			{MaxQueueDepth: -2},
			{HealthInterval: "not-a-duration"},
			{Circuit: CircuitConfig{FailureThreshold: 1.5}},
			{Circuit: CircuitConfig{Cooldown: "-5s"}},
		}
		for i, pc := range cases {
			if _, err := BuildPool(pc); err == nil {
				t.Fatalf("case %d: BuildPool accepted %+v", i, pc)
			}
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name: "duplicate job names",
			mutate: func(c *Config) {
				c.Scheduler.Jobs = append(c.Scheduler.Jobs, c.Scheduler.Jobs[0])
			},
			wantErr: "duplicate name",
		},
		{
			name:    "blank job name",
			mutate:  func(c *Config) { c.Scheduler.Jobs[0].Name = "  " },
			wantErr: "name is required",
		},
		{
			name:    "missing spec",
			mutate:  func(c *Config) { c.Scheduler.Jobs[0].Spec = "" },
			wantErr: "spec is required",
		},
		{
			name:    "bad priority",
			mutate:  func(c *Config) { c.Scheduler.Jobs[0].Priority = "urgent" },
			wantErr: "unknown priority",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "history without driver",
			mutate:  func(c *Config) { c.History = &HistoryConfig{Path: "./h"} },
			wantErr: "history.driver",
		},
		{
			name:    "history unknown driver",
			mutate:  func(c *Config) { c.History = &HistoryConfig{Driver: "redis", Path: "./h"} },
			wantErr: "unknown driver",
		},
		{
			name:    "history without path",
			mutate:  func(c *Config) { c.History = &HistoryConfig{Driver: "file"} },
			wantErr: "history.path",
		},
		{
			name:    "bad metrics duration",
			mutate:  func(c *Config) { c.Metrics.PollInterval = "soon" },
			wantErr: "metrics.poll_interval",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Scheduler: SchedulerConfig{
					Enabled: true,
					Jobs:    []JobConfig{{Name: "job-a", Spec: "@hourly"}},
				},
			}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "five minutes"); err == nil {
		t.Fatal("garbage accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default = (%v, %v)", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{"pool": {"workers": 1}}`)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Pool: PoolConfig{Workers: 2}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Pool.Workers != 2 {
			t.Fatalf("received %+v", got.Pool)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	// A slow subscriber keeps the newest revision, not the oldest.
	stale := &Config{Pool: PoolConfig{Workers: 3}}
	newest := &Config{Pool: PoolConfig{Workers: 4}}
	m.publish(stale)
	m.publish(newest)
	select {
	case got := <-ch:
		if got.Pool.Workers != 4 {
			t.Fatalf("got workers = %d, want newest (4)", got.Pool.Workers)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}
