// Package jobs holds the periodic maintenance run by the server.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fieldops/internal/config"
	"fieldops/internal/logger"
)

type StaleSessionCloser interface {
	CloseStaleWorkSessions(ctx context.Context, openedBefore, logoutAt time.Time) (int64, error)
}

// StartStaleSessionJob closes work sessions that outlived cfg.MaxAge every
// cfg.Interval until ctx is done. It returns at once when disabled.
func StartStaleSessionJob(ctx context.Context, cfg config.StaleSessionJob, closer StaleSessionCloser, log *zap.Logger) {
	if !cfg.Enabled {
		return
	}
	log = logger.OrNop(log)
	if closer == nil {
		log.Warn("stale session job disabled: no store configured")
		return
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				closeStale(ctx, cfg, closer, time.Now().UTC(), log)
			}
		}
	}()
}

func closeStale(ctx context.Context, cfg config.StaleSessionJob, closer StaleSessionCloser, now time.Time, log *zap.Logger) int64 {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 18 * time.Hour
	}
	tickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	closed, err := closer.CloseStaleWorkSessions(tickCtx, now.Add(-maxAge), now)
	if err != nil {
		log.Error("stale session job", zap.Error(err))
		return 0
	}
	if closed > 0 {
		log.Info("stale session job closed work sessions", zap.Int64("closed", closed))
	}
	return closed
}
