package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/webhook"
)

// WebhookStore manages the webhooks of a tenant
type WebhookStore interface {
	GetWebhooksByTenant(ctx context.Context, tenantID uuid.UUID) ([]*webhook.Webhook, error)
	CreateWebhook(ctx context.Context, w *webhook.Webhook) error
	DeleteWebhook(ctx context.Context, tenantID, webhookID uuid.UUID) error
}

type WebhooksHandler struct {
	service WebhookStore
	logger  *slog.Logger
}

func NewWebhooksHandler(service WebhookStore, logger *slog.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		service: service,
		logger:  logger,
	}
}

type CreateWebhookRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

type WebhookResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	Events          []string  `json:"events"`
	Enabled         bool      `json:"enabled"`
	LastTriggeredAt *string   `json:"last_triggered_at,omitempty"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

func toWebhookResponse(w *webhook.Webhook) WebhookResponse {
	var lastTriggered *string
	if w.LastTriggeredAt != nil {
		t := w.LastTriggeredAt.Format(time.RFC3339)
		lastTriggered = &t
	}

	return WebhookResponse{
		ID:              w.ID,
		Name:            w.Name,
		URL:             w.URL,
		Events:          w.Events,
		Enabled:         w.Enabled,
		LastTriggeredAt: lastTriggered,
		CreatedAt:       w.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       w.UpdatedAt.Format(time.RFC3339),
	}
}

// List handles GET /v1/webhooks
func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	webhooks, err := h.service.GetWebhooksByTenant(c.UserContext(), tenantID)
	if err != nil {
		h.logger.Error("failed to list webhooks", "tenant_id", tenantID, "error", err)
		return domain.ErrInternal.WithError(err)
	}

	response := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		response = append(response, toWebhookResponse(w))
	}

	return c.JSON(fiber.Map{
		"webhooks": response,
	})
}

// Create handles POST /v1/webhooks. The signing secret is only returned here.
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	var req CreateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	w := &webhook.Webhook{
		TenantID: tenantID,
		Name:     req.Name,
		URL:      req.URL,
		Events:   req.Events,
		Enabled:  enabled,
	}

	if err := h.service.CreateWebhook(c.UserContext(), w); err != nil {
		if errors.Is(err, webhook.ErrInvalidWebhook) {
			return &domain.AppError{
				Code:       domain.ErrValidationFailed.Code,
				Message:    err.Error(),
				StatusCode: domain.ErrValidationFailed.StatusCode,
			}
		}
		h.logger.Error("failed to create webhook", "tenant_id", tenantID, "error", err)
		return domain.ErrInternal.WithError(err)
	}

	h.logger.Info("webhook created",
		"webhook_id", w.ID,
		"tenant_id", tenantID,
		"name", w.Name,
	)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"webhook": toWebhookResponse(w),
		"secret":  w.Secret,
	})
}

// Delete handles DELETE /v1/webhooks/:id
func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	tenantID, err := middleware.GetTenantID(c)
	if err != nil {
		return err
	}

	webhookID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	if err := h.service.DeleteWebhook(c.UserContext(), tenantID, webhookID); err != nil {
		if errors.Is(err, webhook.ErrWebhookNotFound) {
			return domain.ErrNotFound
		}
		h.logger.Error("failed to delete webhook",
			"webhook_id", webhookID,
			"tenant_id", tenantID,
			"error", err,
		)
		return domain.ErrInternal.WithError(err)
	}

	h.logger.Info("webhook deleted",
		"webhook_id", webhookID,
		"tenant_id", tenantID,
	)

	return c.SendStatus(fiber.StatusNoContent)
}
