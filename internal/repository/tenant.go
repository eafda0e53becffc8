package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

var errTenantConflict = &domain.AppError{
	Code:       "TENANT_ALREADY_EXISTS",
	Message:    "Tenant with this slug already exists",
	StatusCode: 409,
}

const tenantColumns = `id, name, slug, is_active, plan, settings, created_at, updated_at`

type TenantRepository struct {
	pool PgxPool
}

func NewTenantRepository(pool PgxPool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.Plan, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrTenantNotFound) {
		return nil, fmt.Errorf("get tenant by id: %w", err)
	}
	return t, err
}

// GetBySlug is used by operators, who know tenants by slug
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if err != nil && !errors.Is(err, domain.ErrTenantNotFound) {
		return nil, fmt.Errorf("get tenant by slug: %w", err)
	}
	return t, err
}

func (r *TenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.Settings == nil {
		tenant.Settings = make(map[string]interface{})
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, is_active, plan, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`,
		tenant.ID, tenant.Name, tenant.Slug, tenant.IsActive, tenant.Plan, tenant.Settings,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)

	switch {
	case isUniqueViolation(err):
		return errTenantConflict.WithError(err)
	case err != nil:
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// MergeSettings applies patch on top of the stored settings document and
// returns the result. A nil value in patch removes that setting.
func (r *TenantRepository) MergeSettings(ctx context.Context, id uuid.UUID, patch map[string]interface{}) (map[string]interface{}, error) {
	if patch == nil {
		patch = make(map[string]interface{})
	}

	var merged map[string]interface{}
	err := r.pool.QueryRow(ctx, `
		UPDATE tenants
		SET settings = jsonb_strip_nulls(settings || $2::jsonb), updated_at = NOW()
		WHERE id = $1
		RETURNING settings
	`, id, patch).Scan(&merged)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("merge tenant settings: %w", err)
	}

	return merged, nil
}
