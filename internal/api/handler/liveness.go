package handler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

const (
	maxImageSize = 5 * 1024 * 1024 // 5MB
	// maxObservationsPerFrame bounds the faces accepted in one observations request
	maxObservationsPerFrame = 16
)

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// LivenessService interface for the service
type LivenessService interface {
	StartSession(ctx context.Context, tenant *domain.Tenant) (*domain.LivenessSession, error)
	GetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessSession, error)
	SubmitObservations(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, observations []liveness.Observation) (*domain.AdvanceResult, error)
	SubmitFrame(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte) (*domain.AdvanceResult, error)
	ResetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.AdvanceResult, error)
	StoreCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte, contentType string) (*domain.LivenessCapture, error)
	GetCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessCapture, error)
	EndSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) error
}

// StreamTokenIssuer issues the token a browser uses to open the session stream
type StreamTokenIssuer interface {
	Issue(tenantID, sessionID uuid.UUID) (string, time.Time, error)
}

// LivenessHandler handles liveness session requests
type LivenessHandler struct {
	service LivenessService
	tokens  StreamTokenIssuer
	logger  *slog.Logger
}

// NewLivenessHandler creates a new LivenessHandler. tokens may be nil, in which
// case sessions are returned without a stream token.
func NewLivenessHandler(service LivenessService, tokens StreamTokenIssuer, logger *slog.Logger) *LivenessHandler {
	return &LivenessHandler{
		service: service,
		tokens:  tokens,
		logger:  logger,
	}
}

// SessionResponse is a session plus what the client needs to drive it
type SessionResponse struct {
	*domain.LivenessSession
	Prompt               string     `json:"prompt"`
	StreamToken          string     `json:"stream_token,omitempty"`
	StreamTokenExpiresAt *time.Time `json:"stream_token_expires_at,omitempty"`
}

// ObservationsRequest carries the faces detected on one client frame
type ObservationsRequest struct {
	Observations []liveness.Observation `json:"observations"`
}

// CaptureResponse describes a stored selfie
type CaptureResponse struct {
	Capture *domain.LivenessCapture `json:"capture"`
}

// initialPrompts is shown while a step is still pending
var initialPrompts = map[liveness.Step]string{
	liveness.StepFront: "Please look straight at the camera.",
	liveness.StepLeft:  liveness.StepFront.Prompt(),
	liveness.StepRight: liveness.StepLeft.Prompt(),
	liveness.StepSmile: liveness.StepRight.Prompt(),
	liveness.StepDone:  liveness.StepSmile.Prompt(),
}

// StartSession handles POST /v1/liveness/sessions
func (h *LivenessHandler) StartSession(c *fiber.Ctx) error {
	tenant, err := middleware.GetTenant(c)
	if err != nil {
		return err
	}

	session, err := h.service.StartSession(c.UserContext(), tenant)
	if err != nil {
		return err
	}

	resp := SessionResponse{
		LivenessSession: session,
		Prompt:          initialPrompts[session.State.Step],
	}

	if h.tokens != nil {
		token, expiresAt, err := h.tokens.Issue(tenant.ID, session.ID)
		if err != nil {
			h.logger.Error("failed to issue stream token",
				slog.String("session_id", session.ID.String()),
				slog.String("error", err.Error()),
			)
			return domain.ErrInternal.WithError(err)
		}
		resp.StreamToken = token
		resp.StreamTokenExpiresAt = &expiresAt
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetSession handles GET /v1/liveness/sessions/:id
func (h *LivenessHandler) GetSession(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	session, err := h.service.GetSession(c.UserContext(), tenant, sessionID)
	if err != nil {
		return err
	}

	return c.JSON(SessionResponse{
		LivenessSession: session,
		Prompt:          initialPrompts[session.State.Step],
	})
}

// SubmitObservations handles POST /v1/liveness/sessions/:id/observations
func (h *LivenessHandler) SubmitObservations(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	var req ObservationsRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrInvalidObservation.WithError(err)
	}
	if len(req.Observations) > maxObservationsPerFrame {
		return domain.ErrInvalidObservation
	}

	result, err := h.service.SubmitObservations(c.UserContext(), tenant, sessionID, req.Observations)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// SubmitFrame handles POST /v1/liveness/sessions/:id/frames
func (h *LivenessHandler) SubmitFrame(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	imageBytes, _, err := extractAndValidateImage(c)
	if err != nil {
		return err
	}

	result, err := h.service.SubmitFrame(c.UserContext(), tenant, sessionID, imageBytes)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// ResetSession handles POST /v1/liveness/sessions/:id/reset
func (h *LivenessHandler) ResetSession(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	result, err := h.service.ResetSession(c.UserContext(), tenant, sessionID)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

// StoreCapture handles POST /v1/liveness/sessions/:id/capture
func (h *LivenessHandler) StoreCapture(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	imageBytes, contentType, err := extractAndValidateImage(c)
	if err != nil {
		return err
	}

	capture, err := h.service.StoreCapture(c.UserContext(), tenant, sessionID, imageBytes, contentType)
	if err != nil {
		return err
	}

	h.logger.Info("liveness capture stored",
		slog.String("tenant_id", tenant.ID.String()),
		slog.String("session_id", sessionID.String()),
		slog.String("capture_id", capture.ID.String()),
	)

	return c.Status(fiber.StatusCreated).JSON(CaptureResponse{Capture: capture})
}

// GetCapture handles GET /v1/liveness/sessions/:id/capture
func (h *LivenessHandler) GetCapture(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	capture, err := h.service.GetCapture(c.UserContext(), tenant, sessionID)
	if err != nil {
		return err
	}

	return c.JSON(CaptureResponse{Capture: capture})
}

// GetCaptureImage handles GET /v1/liveness/sessions/:id/capture/image
func (h *LivenessHandler) GetCaptureImage(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	capture, err := h.service.GetCapture(c.UserContext(), tenant, sessionID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, capture.ContentType)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(capture.Image)
}

// EndSession handles DELETE /v1/liveness/sessions/:id
func (h *LivenessHandler) EndSession(c *fiber.Ctx) error {
	tenant, sessionID, err := sessionParams(c)
	if err != nil {
		return err
	}

	if err := h.service.EndSession(c.UserContext(), tenant, sessionID); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func sessionParams(c *fiber.Ctx) (*domain.Tenant, uuid.UUID, error) {
	tenant, err := middleware.GetTenant(c)
	if err != nil {
		return nil, uuid.Nil, err
	}

	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		// Malformed ids cannot exist, same answer as an unknown id
		return nil, uuid.Nil, domain.ErrLivenessSessionNotFound
	}

	return tenant, sessionID, nil
}

// extractAndValidateImage reads the "image" multipart field
func extractAndValidateImage(c *fiber.Ctx) ([]byte, string, error) {
	// 1. Extract file
	file, err := c.FormFile("image")
	if err != nil {
		return nil, "", domain.ErrValidationFailed.WithError(err)
	}

	// 2. Validate size
	if file.Size > maxImageSize || file.Size == 0 {
		return nil, "", domain.ErrInvalidImage
	}

	// 3. Validate Content-Type
	contentType := file.Header.Get("Content-Type")
	if !validImageTypes[contentType] {
		return nil, "", domain.ErrInvalidImage
	}

	// 4. Read image bytes
	f, err := file.Open()
	if err != nil {
		return nil, "", domain.ErrInvalidImage.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	imageBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, "", domain.ErrInvalidImage.WithError(err)
	}

	return imageBytes, contentType, nil
}
