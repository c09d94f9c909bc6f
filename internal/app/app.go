// Package app wires the daemon together: config, logging, the worker pool
// and its satellite services.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	prometheus "github.com/prometheus/client_golang/prometheus"

	"poold/internal/config"
	"poold/internal/eventbus"
	"poold/internal/history"
	"poold/internal/observability/prom"
	"poold/internal/pool"
	"poold/internal/runtime/supervisor"
	"poold/internal/sched"
	logx "poold/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	pool    *pool.Pool
	sched   *sched.Service
	store   history.Store
	poller  *prom.Poller
	promSrv *prom.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// History (optional)
	var store history.Store
	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("history enabled", logx.String("driver", hc.Driver))
		}
	}

	poolCfg, err := config.BuildPool(cfg.Pool)
	if err != nil {
		return nil, err
	}
	runner := newExecRunner(log.With(logx.String("comp", "runner")))
	p := pool.New(poolCfg, runner, log.With(logx.String("comp", "pool")), bus)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := sched.New(schedCfg, p, log.With(logx.String("comp", "sched")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		pool:    p,
		sched:   schedSvc,
		store:   store,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pollEvery, _ := config.ParseDurationOrDefault("metrics.poll_interval", cfg.Metrics.PollInterval, 5*time.Second)
		poller, err := prom.NewPoller(reg, p, pollEvery)
		if err != nil {
			return nil, err
		}
		sc, err := mapMetricsServerConfig(cfg.Metrics)
		if err != nil {
			return nil, err
		}
		a.poller = poller
		a.promSrv = prom.NewServer(sc, reg, log.With(logx.String("comp", "metrics")))
	}

	return a, nil
}

// Pool exposes the pool for embedding callers (tests, subcommands).
func (a *App) Pool() *pool.Pool { return a.pool }

// Done is closed when the app supervisor context is cancelled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	if err := a.pool.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.store != nil {
		rec := history.NewRecorder(a.bus, a.store, a.log.With(logx.String("comp", "history")))
		a.sup.Go("history.recorder", rec.Run)
	}

	if a.poller != nil {
		a.poller.Start(a.sup.Context())
		if err := a.promSrv.Start(); err != nil {
			a.log.Error("metrics server failed to start", logx.Err(err))
		}
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(true),
	)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	wd, err := config.ParseDurationField("daemon.watchdog_interval", a.cfgm.Get().Daemon.WatchdogInterval)
	if err != nil {
		wd = 0
	}
	a.NotifyReady(wd)

	a.log.Info("daemon started", logx.String("config", a.cfgPath))
	return nil
}

// reloadLoop applies hot-reloaded configs: logging and scheduler sections
// take effect immediately; pool, history and metrics changes need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs, jobsChanged := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config changed", fields...)
			lastApplied = newCfg

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
				case "scheduler":
					sc, err := mapSchedulerConfig(newCfg)
					if err != nil {
						a.log.Warn("scheduler reload skipped", logx.Err(err))
						continue
					}
					if len(jobsChanged) > 0 {
						a.log.Debug("job definitions changed", logx.Any("jobs", jobsChanged))
					}
					a.sched.Apply(sc)
				case "pool", "history", "metrics":
					a.log.Warn("section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}
		}
	}
}

// Stop drains the pool, halts satellites and flushes logging.
func (a *App) Stop(ctx context.Context) error {
	a.NotifyStopping()
	if a.sched != nil {
		a.sched.Stop()
	}

	summary := a.pool.Shutdown(0)
	a.log.Info("pool drained",
		logx.Int("graceful", summary.Graceful),
		logx.Int("forced", summary.Forced),
		logx.Int("abandoned", summary.Abandoned),
	)

	if a.poller != nil {
		a.poller.Stop()
		a.promSrv.Stop(ctx)
	}

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("supervisor wait", logx.Err(err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("history close", logx.Err(err))
		}
	}
	_ = a.logs.Close()
	return nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, bool, error) {
	if cfg.History == nil {
		return history.Config{}, false, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.History.Driver)) {
	case "", "none":
		return history.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return history.Config{}, false, err
	}
	return history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		Capacity:    cfg.History.Capacity,
		BusyTimeout: busy,
	}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (sched.Config, error) {
	out := sched.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
	for i, j := range cfg.Scheduler.Jobs {
		prio, err := pool.ParsePriority(j.Priority)
		if err != nil {
			return out, fmt.Errorf("scheduler.jobs[%d] %q: %w", i, j.Name, err)
		}
		timeout, err := config.ParseDurationField(fmt.Sprintf("scheduler.jobs[%d].timeout", i), j.Timeout)
		if err != nil {
			return out, err
		}
		retries := 0 // pool default
		if j.Retries != nil {
			retries = *j.Retries
			if retries == 0 {
				retries = -1 // explicit "no replay"
			}
		}
		out.Jobs = append(out.Jobs, sched.Job{
			Name:     strings.TrimSpace(j.Name),
			Spec:     j.Spec,
			Priority: prio,
			Payload:  j.Payload,
			Retries:  retries,
			Timeout:  timeout,
		})
	}
	return out, nil
}

func mapMetricsServerConfig(mc config.MetricsConfig) (prom.ServerConfig, error) {
	var (
		out = prom.ServerConfig{Enabled: mc.Enabled, Addr: mc.Addr}
		err error
	)
	if out.ReadTimeout, err = config.ParseDurationField("metrics.read_timeout", mc.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("metrics.write_timeout", mc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("metrics.idle_timeout", mc.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}
