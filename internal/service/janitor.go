package service

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner is a store whose expired rows are purged periodically
// (cache.PGCache, ratelimit.RateLimiter).
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Janitor expira sessões vencidas e limpa as tabelas UNLOGGED em intervalos fixos
type Janitor struct {
	sessions *LivenessService
	cleaners map[string]Cleaner
	interval time.Duration
	logger   *slog.Logger
}

func NewJanitor(sessions *LivenessService, cleaners map[string]Cleaner, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		sessions: sessions,
		cleaners: cleaners,
		interval: interval,
		logger:   logger.With("component", "janitor"),
	}
}

// Run blocks until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", slog.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup pass. Failures are logged and retried on the next tick.
func (j *Janitor) RunOnce(ctx context.Context) {
	expired, err := j.sessions.ExpireStale(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to expire sessions", slog.String("error", err.Error()))
	} else if expired > 0 {
		j.logger.InfoContext(ctx, "expired liveness sessions", slog.Int64("count", expired))
	}

	for name, c := range j.cleaners {
		n, err := c.CleanupExpired(ctx)
		if err != nil {
			j.logger.ErrorContext(ctx, "cleanup failed",
				slog.String("store", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			j.logger.DebugContext(ctx, "cleanup done",
				slog.String("store", name),
				slog.Int64("deleted", n),
			)
		}
	}
}
