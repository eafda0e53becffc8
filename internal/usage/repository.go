package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrPlanNotFound = errors.New("plan not found")

// DB is the subset of *pgxpool.Pool used by the repository
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const planColumns = `id, name, monthly_price, quota_sessions, overage_price, created_at, updated_at`

func (r *Repository) GetPlanByID(ctx context.Context, planID string) (*Plan, error) {
	var p Plan
	err := r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, planID).
		Scan(&p.ID, &p.Name, &p.MonthlyPrice, &p.QuotaSessions, &p.OveragePrice, &p.CreatedAt, &p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	case err != nil:
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return &p, nil
}

// AggregatePeriod sums the daily counters of tenantID between from and to, both inclusive
func (r *Repository) AggregatePeriod(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*UsageRecord, error) {
	const q = `
		SELECT
			COALESCE(SUM(sessions_started), 0),
			COALESCE(SUM(captures_stored), 0),
			COALESCE(SUM(frames_processed), 0)
		FROM usage_daily
		WHERE tenant_id = $1 AND date BETWEEN $2 AND $3`

	rec := UsageRecord{TenantID: tenantID, Date: from}
	if err := r.db.QueryRow(ctx, q, tenantID, from, to).
		Scan(&rec.SessionsStarted, &rec.CapturesStored, &rec.FramesProcessed); err != nil {
		return nil, fmt.Errorf("tenant %s: aggregate usage: %w", tenantID, err)
	}
	return &rec, nil
}

// IncrementDaily adds amount to one counter of the tenant's row for date,
// creating the row on first use.
func (r *Repository) IncrementDaily(ctx context.Context, tenantID uuid.UUID, date time.Time, field string, amount int64) error {
	var sessions, captures, frames int64
	switch field {
	case FieldSessionsStarted:
		sessions = amount
	case FieldCapturesStored:
		captures = amount
	case FieldFramesProcessed:
		frames = amount
	default:
		return fmt.Errorf("invalid usage field %q", field)
	}

	const q = `
		INSERT INTO usage_daily (tenant_id, date, sessions_started, captures_stored, frames_processed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			sessions_started = usage_daily.sessions_started + EXCLUDED.sessions_started,
			captures_stored  = usage_daily.captures_stored + EXCLUDED.captures_stored,
			frames_processed = usage_daily.frames_processed + EXCLUDED.frames_processed,
			updated_at       = NOW()`

	if _, err := r.db.Exec(ctx, q, tenantID, date, sessions, captures, frames); err != nil {
		return fmt.Errorf("tenant %s: increment %s: %w", tenantID, field, err)
	}
	return nil
}

// GetActiveTenantsWithPlan lists the tenants whose quota is checked by Worker
func (r *Repository) GetActiveTenantsWithPlan(ctx context.Context) ([]TenantPlan, error) {
	rows, err := r.db.Query(ctx, `SELECT id, plan FROM tenants WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []TenantPlan
	for rows.Next() {
		var tp TenantPlan
		if err := rows.Scan(&tp.TenantID, &tp.PlanID); err != nil {
			return nil, fmt.Errorf("scan tenant plan: %w", err)
		}
		tenants = append(tenants, tp)
	}

	return tenants, rows.Err()
}
