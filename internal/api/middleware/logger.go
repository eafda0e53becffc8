package middleware

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
)

// Logger writes one line per request. Successful requests to quietPaths
// (probes) are logged at debug level.
func Logger(logger *slog.Logger, quietPaths ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		// ErrorHandler runs after us, so on error the response status is not set yet
		status := statusFor(c, err)

		level := levelFor(status)
		if level == slog.LevelInfo && slices.Contains(quietPaths, c.Path()) {
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("ip", c.IP()),
			slog.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		}
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			attrs = append(attrs, slog.String("request_id", rid))
		}
		if tenantID, ok := c.Locals(LocalTenantID).(uuid.UUID); ok {
			attrs = append(attrs, slog.String("tenant_id", tenantID.String()))
		}

		logger.LogAttrs(c.Context(), level, "http request", attrs...)
		return err
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= fiber.StatusInternalServerError:
		return slog.LevelError
	case status >= fiber.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func statusFor(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	return fiber.StatusInternalServerError
}
