package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

const (
	localTenantID = "tenant_id"
	localTenant   = "tenant"
)

// Handler streams the tenant's liveness events
func Handler(hub *Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		tenantID, ok := c.Locals(localTenantID).(uuid.UUID)
		if !ok {
			_ = c.Close()
			return
		}

		client := newClient(hub, c, tenantID)

		if !hub.Register(client) {
			_ = c.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// ObservationSubmitter advances a session with client-side detections
type ObservationSubmitter interface {
	SubmitObservations(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, observations []liveness.Observation) (*domain.AdvanceResult, error)
}

// StreamConfig bounds the observation stream of one connection
type StreamConfig struct {
	FramesPerSecond float64
	Burst           int
	MessageTimeout  time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		FramesPerSecond: 15,
		Burst:           5,
		MessageTimeout:  5 * time.Second,
	}
}

// StreamMessage is one frame worth of detections sent by the client
type StreamMessage struct {
	Observations []liveness.Observation `json:"observations"`
}

type streamError struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errFrameRateExceeded = &domain.AppError{
	Code:    "FRAME_RATE_EXCEEDED",
	Message: "Frames are arriving faster than the session accepts, frame skipped",
}

// StreamHandler accepts one StreamMessage per websocket message on
// /v1/liveness/sessions/:id/stream and answers each with the AdvanceResult.
// Messages over the frame rate are answered with FRAME_RATE_EXCEEDED and not
// fed to the session.
func StreamHandler(submitter ObservationSubmitter, cfg StreamConfig, logger *slog.Logger) fiber.Handler {
	logger = logger.With("component", "ws_stream")

	return websocket.New(func(c *websocket.Conn) {
		defer func() { _ = c.Close() }()

		tenant, ok := c.Locals(localTenant).(*domain.Tenant)
		if !ok {
			writeError(c, domain.ErrUnauthorized)
			return
		}

		sessionID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			writeError(c, domain.ErrLivenessSessionNotFound)
			return
		}

		limiter := rate.NewLimiter(rate.Limit(cfg.FramesPerSecond), cfg.Burst)

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}

			if !limiter.Allow() {
				writeError(c, errFrameRateExceeded)
				continue
			}

			var msg StreamMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				writeError(c, domain.ErrInvalidObservation.WithError(err))
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.MessageTimeout)
			result, err := submitter.SubmitObservations(ctx, tenant, sessionID, msg.Observations)
			cancel()

			if err != nil {
				writeError(c, err)
				var appErr *domain.AppError
				if errors.As(err, &appErr) && appErr.StatusCode < 500 && !terminal(appErr) {
					continue
				}
				if !errors.As(err, &appErr) {
					logger.Error("stream observation failed", "session_id", sessionID, "error", err)
				}
				return
			}

			if err := c.WriteJSON(result); err != nil {
				return
			}
		}
	})
}

// terminal errors close the stream: the session cannot accept more frames
func terminal(err *domain.AppError) bool {
	return errors.Is(err, domain.ErrLivenessSessionNotFound) ||
		errors.Is(err, domain.ErrLivenessSessionExpired) ||
		errors.Is(err, domain.ErrLivenessSessionEnded)
}

func writeError(c *websocket.Conn, err error) {
	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		appErr = domain.ErrInternal
	}
	_ = c.WriteJSON(streamError{Error: errorBody{Code: appErr.Code, Message: appErr.Message}})
}
