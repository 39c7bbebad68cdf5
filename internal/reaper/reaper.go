// Package reaper removes dialogs whose frontend process has exited without
// closing its connection.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/printdialog/printdialog/internal/session"
)

// ExistsFunc reports whether a process id is alive.
type ExistsFunc func(ctx context.Context, pid int32) (bool, error)

// Reaper periodically checks the frontend pid of every dialog. Dialogs
// without a pid and keep-alive dialogs are never reaped.
type Reaper struct {
	registry *session.Registry
	interval time.Duration
	exists   ExistsFunc
	log      zerolog.Logger
}

func New(registry *session.Registry, interval time.Duration, logger zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		exists:   process.PidExistsWithContext,
		log:      logger.With().Str("component", "reaper").Logger(),
	}
}

// Run reaps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce removes every eligible dialog whose frontend is gone and
// returns how many were removed.
func (r *Reaper) ReapOnce(ctx context.Context) int {
	reaped := 0
	r.registry.ForEach(func(d *session.Dialog) {
		pid := d.PID()
		if pid <= 0 || d.KeepAlive() {
			return
		}
		alive, err := r.exists(ctx, pid)
		if err != nil {
			r.log.Debug().Err(err).Int32("pid", pid).Msg("pid check failed")
			return
		}
		if alive {
			return
		}
		id := d.ID()
		if _, ok := r.registry.Remove(id); ok {
			reaped++
			r.log.Info().Str("dialog_id", id).Int32("pid", pid).Msg("frontend process exited, dialog removed")
		}
	})
	return reaped
}
