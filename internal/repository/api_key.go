package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

var errAPIKeyConflict = &domain.AppError{
	Code:       "API_KEY_ALREADY_EXISTS",
	Message:    "API key with this hash already exists",
	StatusCode: 409,
}

type APIKeyRepository struct {
	pool PgxPool
}

func NewAPIKeyRepository(pool PgxPool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// Create stores the hash and display prefix of a new key. The plain key is never persisted.
func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if err := key.Validate(); err != nil {
		return domain.ErrValidationFailed.WithError(err)
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, environment, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Environment, key.IsActive,
	).Scan(&key.CreatedAt)
	if isUniqueViolation(err) {
		return errAPIKeyConflict
	}
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	return nil
}

// GetByHash looks a key up by the SHA-256 of its plain text. Revoked keys are
// returned too; callers check IsActive.
func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, key_hash, key_prefix, environment, is_active, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1`, hash,
	).Scan(
		&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.Environment, &key.IsActive, &key.LastUsedAt, &key.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}

	return &key, nil
}

// TouchLastUsed writes the last use of many keys in one statement. A stored
// timestamp newer than the given one is kept. Returns the rows changed.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, uses map[uuid.UUID]time.Time) (int64, error) {
	if len(uses) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(uses))
	times := make([]time.Time, 0, len(uses))
	for id, at := range uses {
		ids = append(ids, id)
		times = append(times, at)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys AS k
		SET last_used_at = u.used_at
		FROM unnest($1::uuid[], $2::timestamptz[]) AS u(id, used_at)
		WHERE k.id = u.id
		  AND (k.last_used_at IS NULL OR k.last_used_at < u.used_at)`,
		ids, times,
	)
	if err != nil {
		return 0, fmt.Errorf("touch last used: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Revoke deactivates a key of the tenant. Auth rejects it on the next request.
func (r *APIKeyRepository) Revoke(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET is_active = false WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAPIKeyNotFound
	}
	return nil
}
