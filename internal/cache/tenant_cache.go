package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/repository"
)

// DefaultTenantTTL bounds how long a settings change takes to reach running sessions
const DefaultTenantTTL = 30 * time.Second

// TenantRepository serves tenant lookups from PGCache and falls back to the
// wrapped repository. Every authenticated request resolves its tenant, so
// this keeps the auth path to a single primary-key read on cache_entries.
type TenantRepository struct {
	repository.TenantRepositoryInterface
	cache  *PGCache
	ttl    time.Duration
	logger *slog.Logger
}

var _ repository.TenantRepositoryInterface = (*TenantRepository)(nil)

func NewTenantRepository(repo repository.TenantRepositoryInterface, cache *PGCache, ttl time.Duration, logger *slog.Logger) *TenantRepository {
	if ttl <= 0 {
		ttl = DefaultTenantTTL
	}
	return &TenantRepository{
		TenantRepositoryInterface: repo,
		cache:                     cache,
		ttl:                       ttl,
		logger:                    logger,
	}
}

func tenantKey(id uuid.UUID) string {
	return fmt.Sprintf("tenant:%s", id)
}

// GetByID returns the cached tenant when present. Cache failures degrade to a
// direct repository read.
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.cache.GetJSON(ctx, tenantKey(id), &tenant)
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("tenant cache read failed", "tenant_id", id, "error", err)
	}

	fresh, err := r.TenantRepositoryInterface.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetJSON(ctx, tenantKey(id), fresh, r.ttl); err != nil {
		r.logger.Warn("tenant cache write failed", "tenant_id", id, "error", err)
	}

	return fresh, nil
}

// MergeSettings writes through and drops the cached copy
func (r *TenantRepository) MergeSettings(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (map[string]interface{}, error) {
	merged, err := r.TenantRepositoryInterface.MergeSettings(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Delete(ctx, tenantKey(id)); err != nil {
		r.logger.Warn("tenant cache invalidation failed", "tenant_id", id, "error", err)
	}
	return merged, nil
}
