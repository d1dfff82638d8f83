package services

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

const reaperSchedule = "@every 1m"

// SessionReaper periodically expires sessions whose heartbeats stopped.
// Lazy expiry in Check covers contended workstations; the reaper covers the
// ones nobody asks about.
type SessionReaper struct {
	sessions *Session
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSessionReaper creates a reaper bound to the session manager's timeout.
func NewSessionReaper(sessions *Session, logger *slog.Logger) *SessionReaper {
	return &SessionReaper{
		sessions: sessions,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start schedules the sweep and begins running it.
func (r *SessionReaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(reaperSchedule, func() {
		r.sweep(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Session reaper started", "schedule", reaperSchedule)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *SessionReaper) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

func (r *SessionReaper) sweep(ctx context.Context) {
	expired, err := r.sessions.ExpireStale(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Session sweep failed", "error", err)

		return
	}

	if expired > 0 {
		r.logger.InfoContext(ctx, "Session sweep expired sessions", "count", expired)
	}
}
