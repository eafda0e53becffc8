package handler

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/usage"
)

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// UsageReader returns the usage summaries of a tenant
type UsageReader interface {
	GetCurrentUsage(ctx context.Context, tenantID uuid.UUID, planID string) (*usage.UsageSummary, error)
	GetUsageForPeriod(ctx context.Context, tenantID uuid.UUID, planID, period string) (*usage.UsageSummary, error)
}

type UsageHandler struct {
	service UsageReader
	logger  *slog.Logger
}

func NewUsageHandler(service UsageReader, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		service: service,
		logger:  logger,
	}
}

// Current handles GET /v1/usage
func (h *UsageHandler) Current(c *fiber.Ctx) error {
	tenant, err := middleware.GetTenant(c)
	if err != nil {
		return err
	}

	summary, err := h.service.GetCurrentUsage(c.UserContext(), tenant.ID, tenant.Plan)
	if err != nil {
		return h.usageError(tenant.ID, err)
	}

	return c.JSON(summary)
}

// ForPeriod handles GET /v1/usage/:period (YYYY-MM)
func (h *UsageHandler) ForPeriod(c *fiber.Ctx) error {
	tenant, err := middleware.GetTenant(c)
	if err != nil {
		return err
	}

	period := c.Params("period")
	if !periodPattern.MatchString(period) {
		return &domain.AppError{
			Code:       domain.ErrBadRequest.Code,
			Message:    "period must be formatted as YYYY-MM",
			StatusCode: domain.ErrBadRequest.StatusCode,
		}
	}

	summary, err := h.service.GetUsageForPeriod(c.UserContext(), tenant.ID, tenant.Plan, period)
	if err != nil {
		return h.usageError(tenant.ID, err)
	}

	return c.JSON(summary)
}

func (h *UsageHandler) usageError(tenantID uuid.UUID, err error) error {
	if errors.Is(err, usage.ErrPlanNotFound) {
		return domain.ErrNotFound.WithError(err)
	}
	h.logger.Error("failed to get usage", "tenant_id", tenantID, "error", err)
	return domain.ErrInternal.WithError(err)
}
