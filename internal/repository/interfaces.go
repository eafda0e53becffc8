package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool used by repositories.
// pgxmock.PgxPoolIface satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TenantRepositoryInterface defines operations for tenant data access
type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	Create(ctx context.Context, tenant *domain.Tenant) error
	MergeSettings(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (map[string]interface{}, error)
}

// APIKeyRepositoryInterface defines operations for API key data access
type APIKeyRepositoryInterface interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	TouchLastUsed(ctx context.Context, uses map[uuid.UUID]time.Time) (int64, error)
	Revoke(ctx context.Context, tenantID, id uuid.UUID) error
}

// LivenessSessionRepositoryInterface defines persistence of challenge sessions
type LivenessSessionRepositoryInterface interface {
	Create(ctx context.Context, session *domain.LivenessSession) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.LivenessSession, error)
	Update(ctx context.Context, session *domain.LivenessSession) error
	ExpireStale(ctx context.Context, now time.Time) ([]*domain.LivenessSession, error)
}

// CaptureRepositoryInterface defines persistence of selfie captures
type CaptureRepositoryInterface interface {
	Create(ctx context.Context, capture *domain.LivenessCapture) error
	GetBySession(ctx context.Context, tenantID, sessionID uuid.UUID) (*domain.LivenessCapture, error)
}
