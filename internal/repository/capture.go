package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

// CaptureRepository stores the selfie taken at the end of a challenge.
// liveness_captures.session_id is unique: one capture per session.
type CaptureRepository struct {
	pool PgxPool
}

func NewCaptureRepository(pool PgxPool) *CaptureRepository {
	return &CaptureRepository{pool: pool}
}

func (r *CaptureRepository) Create(ctx context.Context, c *domain.LivenessCapture) error {
	query := `
		INSERT INTO liveness_captures (
			id, session_id, tenant_id, source, content_type, image, size_bytes, sha256,
			liveness_score, checks, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.SessionID,
		c.TenantID,
		string(c.Source),
		c.ContentType,
		c.Image,
		c.SizeBytes,
		c.SHA256,
		c.LivenessScore,
		c.Checks,
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCaptureAlreadyStored
		}
		return fmt.Errorf("create liveness capture: %w", err)
	}

	return nil
}

// GetBySession returns the capture metadata of a session. The image bytes are not loaded.
func (r *CaptureRepository) GetBySession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.LivenessCapture, error) {
	query := `
		SELECT id, session_id, tenant_id, source, content_type, size_bytes, sha256,
		       liveness_score, checks, created_at
		FROM liveness_captures
		WHERE tenant_id = $1 AND session_id = $2
	`

	var (
		c      domain.LivenessCapture
		source string
	)
	err := r.pool.QueryRow(ctx, query, tenantID, sessionID).Scan(
		&c.ID,
		&c.SessionID,
		&c.TenantID,
		&source,
		&c.ContentType,
		&c.SizeBytes,
		&c.SHA256,
		&c.LivenessScore,
		&c.Checks,
		&c.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get liveness capture: %w", err)
	}

	c.Source = domain.CaptureSource(source)

	return &c, nil
}
