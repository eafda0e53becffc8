package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/streamtoken"
)

const (
	// LocalTenantID is the key to retrieve tenant_id from context
	LocalTenantID = "tenant_id"
	// LocalTenant is the key to retrieve the full tenant from context
	LocalTenant = "tenant"
	// LocalAPIKey is the key to retrieve the API key that authenticated the request
	LocalAPIKey = "api_key"
)

// TenantRepository interface for tenant lookup
type TenantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
}

// APIKeyRepository interface for API key lookup
type APIKeyRepository interface {
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
}

// LastUsedRecorder receives the id of every key that authenticated a request
type LastUsedRecorder interface {
	Enqueue(keyID uuid.UUID)
}

// AuthDependencies holds the collaborators of the Auth middleware
type AuthDependencies struct {
	TenantRepo     TenantRepository
	APIKeyRepo     APIKeyRepository
	Logger         *slog.Logger
	LastUsedWorker LastUsedRecorder
}

// Auth creates an authentication middleware using API Key
func Auth(deps AuthDependencies) fiber.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		// 1. Extract Bearer token
		apiKey := extractBearerToken(c)
		if apiKey == "" {
			return domain.ErrUnauthorized
		}

		// 2. Reject malformed keys before hitting the database
		if !domain.IsValidFormat(apiKey) {
			return domain.ErrInvalidAPIKeyFormat
		}

		// 3. Lookup key by hash
		key, err := deps.APIKeyRepo.GetByHash(c.UserContext(), domain.HashAPIKey(apiKey))
		if err != nil {
			// Don't reveal whether API Key exists or not
			if !isNotFound(err) {
				logger.Error("api key lookup failed", slog.String("error", err.Error()))
			}
			return domain.ErrUnauthorized
		}

		if !key.IsActive {
			return domain.ErrAPIKeyRevoked
		}

		// 4. Load tenant (cached)
		tenant, err := deps.TenantRepo.GetByID(c.UserContext(), key.TenantID)
		if err != nil {
			if !isNotFound(err) {
				logger.Error("tenant lookup failed",
					slog.String("tenant_id", key.TenantID.String()),
					slog.String("error", err.Error()),
				)
			}
			return domain.ErrUnauthorized
		}

		// 5. Verify tenant is active
		if !tenant.IsActive {
			return domain.ErrTenantInactive
		}

		if deps.LastUsedWorker != nil {
			deps.LastUsedWorker.Enqueue(key.ID)
		}

		// 6. Set tenant in context
		c.Locals(LocalTenantID, tenant.ID)
		c.Locals(LocalTenant, tenant)
		c.Locals(LocalAPIKey, key)

		return c.Next()
	}
}

// RequireSecretKey rejects requests authenticated with a publishable key.
// Stream-token requests carry no key and are rejected as well.
func RequireSecretKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := c.Locals(LocalAPIKey).(*domain.APIKey)
		if !ok {
			return domain.ErrUnauthorized
		}
		if !key.IsSecret() {
			return domain.ErrSecretKeyRequired
		}
		return c.Next()
	}
}

// StreamTokenValidator parses the tokens handed out with new sessions
type StreamTokenValidator interface {
	Validate(token string) (*streamtoken.Claims, error)
}

// StreamAuth authenticates the stream of one session through the "token"
// query parameter, since browsers cannot set headers on a websocket upgrade.
// Requests without a token go through apiKeyAuth.
func StreamAuth(tokens StreamTokenValidator, tenantRepo TenantRepository, apiKeyAuth fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Query("token")
		if raw == "" || tokens == nil {
			return apiKeyAuth(c)
		}

		claims, err := tokens.Validate(raw)
		if err != nil {
			return domain.ErrUnauthorized.WithError(err)
		}
		if claims.SessionID.String() != c.Params("id") {
			return domain.ErrUnauthorized
		}

		tenant, err := tenantRepo.GetByID(c.UserContext(), claims.TenantID)
		if err != nil {
			return domain.ErrUnauthorized
		}
		if !tenant.IsActive {
			return domain.ErrTenantInactive
		}

		c.Locals(LocalTenantID, tenant.ID)
		c.Locals(LocalTenant, tenant)

		return c.Next()
	}
}

func isNotFound(err error) bool {
	var appErr *domain.AppError
	return errors.As(err, &appErr) && appErr.StatusCode == fiber.StatusNotFound
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// GetTenantID retrieves tenant_id from Fiber context
func GetTenantID(c *fiber.Ctx) (uuid.UUID, error) {
	tenantID, ok := c.Locals(LocalTenantID).(uuid.UUID)
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return tenantID, nil
}

// GetTenant retrieves full tenant from Fiber context
func GetTenant(c *fiber.Ctx) (*domain.Tenant, error) {
	tenant, ok := c.Locals(LocalTenant).(*domain.Tenant)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return tenant, nil
}
