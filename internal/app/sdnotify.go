package app

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	logx "poold/pkg/logx"
)

// NotifyReady tells systemd the daemon is up and, when the unit has a
// watchdog configured, starts the keepalive loop under the app supervisor.
// Outside systemd both calls are no-ops.
func (a *App) NotifyReady(override time.Duration) {
	sent, err := sd.SdNotify(false, sd.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !sent {
		return
	}

	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("watchdog query failed", logx.Err(err))
		return
	}
	if override > 0 {
		interval = override
	}
	if interval <= 0 {
		return
	}
	// Ping at half the budget so one missed tick doesn't kill the unit.
	interval /= 2

	a.sup.Go0("sd.watchdog", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sd.SdNotify(false, sd.SdNotifyWatchdog); err != nil {
					a.log.Warn("watchdog ping failed", logx.Err(err))
				}
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}

// NotifyStopping signals systemd that shutdown has begun.
func (a *App) NotifyStopping() {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
}
