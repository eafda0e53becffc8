// Package ratelimit limits liveness session starts per tenant. Counters live
// in postgres so the limit holds across API replicas.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

// DB is satisfied by *pgxpool.Pool and pgxmock
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RateLimiter is a sliding window approximated from two fixed windows: the
// previous window's count is weighted by how much of it still overlaps the
// sliding window. Each check is one round trip.
type RateLimiter struct {
	db     DB
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a limiter over windows of the given size
func NewRateLimiter(db DB, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		db:     db,
		window: window,
		now:    time.Now,
	}
}

func counterKey(tenantID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("session_start:%s:%d", tenantID, windowStart.Unix())
}

// CheckSessionLimit registers one session start and fails with
// domain.ErrSessionRateLimitExceeded once the estimated starts in the last
// window exceed limit. A limit <= 0 disables the check.
func (r *RateLimiter) CheckSessionLimit(ctx context.Context, tenantID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}

	now := r.now()
	current := now.Truncate(r.window)
	previous := current.Add(-r.window)

	var cur, prev int
	err := r.db.QueryRow(ctx, `
		WITH cur AS (
			INSERT INTO rate_limit_counters (key, count, window_start, window_end, tenant_id)
			VALUES ($1, 1, $3, $4, $5)
			ON CONFLICT (key) DO UPDATE SET count = rate_limit_counters.count + 1
			RETURNING count
		)
		SELECT cur.count, COALESCE((SELECT count FROM rate_limit_counters WHERE key = $2), 0)
		FROM cur
	`,
		counterKey(tenantID, current),
		counterKey(tenantID, previous),
		current,
		current.Add(r.window),
		tenantID,
	).Scan(&cur, &prev)
	if err != nil {
		return fmt.Errorf("check session rate limit: %w", err)
	}

	estimated := r.estimate(prev, cur, now.Sub(current))
	if estimated > limit {
		return domain.ErrSessionRateLimitExceeded.WithError(
			fmt.Errorf("~%d/%d session starts in %s", estimated, limit, r.window),
		)
	}

	return nil
}

// estimate weights prev by the share of the previous window still inside
// the sliding window ending now
func (r *RateLimiter) estimate(prev, cur int, elapsed time.Duration) int {
	overlap := 1 - float64(elapsed)/float64(r.window)
	return cur + int(math.Floor(float64(prev)*overlap))
}

// CleanupExpired removes counters whose window ended over an hour ago (run by the janitor)
func (r *RateLimiter) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM rate_limit_counters WHERE window_end < NOW() - INTERVAL '1 hour'`)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit counters: %w", err)
	}
	return result.RowsAffected(), nil
}
