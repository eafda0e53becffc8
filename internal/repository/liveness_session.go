package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

// LivenessSessionRepository persists challenge sessions. The challenge state
// is stored in plain columns so sessions can be inspected with SQL.
type LivenessSessionRepository struct {
	pool PgxPool
}

func NewLivenessSessionRepository(pool PgxPool) *LivenessSessionRepository {
	return &LivenessSessionRepository{pool: pool}
}

func (r *LivenessSessionRepository) Create(ctx context.Context, s *domain.LivenessSession) error {
	query := `
		INSERT INTO liveness_sessions (
			id, tenant_id, status, step, locked_tracking_id, last_advance_at, captured,
			resets, frames_processed, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.TenantID,
		string(s.Status),
		s.State.Step.String(),
		toTrackingColumn(s.State.LockedTrackingID),
		s.State.LastAdvanceAt,
		s.State.Captured,
		s.Resets,
		s.FramesProcessed,
		s.ExpiresAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create liveness session: %w", err)
	}

	return nil
}

const sessionColumnList = `id, tenant_id, status, step, locked_tracking_id, last_advance_at, captured,
		resets, frames_processed, expires_at, created_at, updated_at, ended_at`

func (r *LivenessSessionRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.LivenessSession, error) {
	query := `SELECT ` + sessionColumnList + ` FROM liveness_sessions WHERE tenant_id = $1 AND id = $2`

	s, err := scanSession(r.pool.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLivenessSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get liveness session: %w", err)
	}

	return s, nil
}

func scanSession(row pgx.Row) (*domain.LivenessSession, error) {
	var (
		s       domain.LivenessSession
		status  string
		step    string
		tracked *int64
	)
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&status,
		&step,
		&tracked,
		&s.State.LastAdvanceAt,
		&s.State.Captured,
		&s.Resets,
		&s.FramesProcessed,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.SessionStatus(status)
	if s.State.Step, err = liveness.ParseStep(step); err != nil {
		return nil, err
	}
	s.State.LockedTrackingID = fromTrackingColumn(tracked)

	return &s, nil
}

// Update writes the challenge state and status back
func (r *LivenessSessionRepository) Update(ctx context.Context, s *domain.LivenessSession) error {
	query := `
		UPDATE liveness_sessions
		SET status = $3, step = $4, locked_tracking_id = $5, last_advance_at = $6, captured = $7,
		    resets = $8, frames_processed = $9, updated_at = $10, ended_at = $11
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.pool.Exec(ctx, query,
		s.TenantID,
		s.ID,
		string(s.Status),
		s.State.Step.String(),
		toTrackingColumn(s.State.LockedTrackingID),
		s.State.LastAdvanceAt,
		s.State.Captured,
		s.Resets,
		s.FramesProcessed,
		s.UpdatedAt,
		s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update liveness session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrLivenessSessionNotFound
	}

	return nil
}

// ExpireStale marks every non-terminal session past its TTL as expired and
// returns the sessions it changed
func (r *LivenessSessionRepository) ExpireStale(ctx context.Context, now time.Time) ([]*domain.LivenessSession, error) {
	query := `
		UPDATE liveness_sessions
		SET status = 'expired', updated_at = $1, ended_at = $1
		WHERE expires_at <= $1 AND status IN ('active', 'capture_requested')
		RETURNING ` + sessionColumnList

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}
	defer rows.Close()

	var expired []*domain.LivenessSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		expired = append(expired, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire stale sessions: %w", err)
	}

	return expired, nil
}

// tracking ids are unsigned in memory and BIGINT in postgres
func toTrackingColumn(id *uint64) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func fromTrackingColumn(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	id := uint64(*v)
	return &id
}
