// Package audit records the LGPD trail of a liveness session: when it
// started, which challenge steps passed, when the selfie was captured and
// checked, and how the session ended. Biometric data never enters the trail.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of auditable event
type EventType string

const (
	EventFaceDetected     EventType = "FACE_DETECTED"
	EventSelfieChecked    EventType = "SELFIE_CHECKED"
	EventSessionStarted   EventType = "LIVENESS_SESSION_STARTED"
	EventStepCompleted    EventType = "LIVENESS_STEP_COMPLETED"
	EventSessionReset     EventType = "LIVENESS_SESSION_RESET"
	EventCaptureRequested EventType = "LIVENESS_CAPTURE_REQUESTED"
	EventCaptureStored    EventType = "LIVENESS_CAPTURE_STORED"
	EventSessionEnded     EventType = "LIVENESS_SESSION_ENDED"
)

// Event is one entry of the trail
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	EventType EventType         `json:"event_type"`
	SessionID string            `json:"session_id,omitempty"`
	CaptureID string            `json:"capture_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// LogValue renders the event as a slog group, skipping empty fields
func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", e.ID.String()),
		slog.Time("timestamp", e.Timestamp),
		slog.String("tenant_id", e.TenantID.String()),
		slog.String("event_type", string(e.EventType)),
		slog.Bool("success", e.Success),
	}
	for _, opt := range []struct{ key, value string }{
		{"session_id", e.SessionID},
		{"capture_id", e.CaptureID},
		{"provider", e.Provider},
		{"error", e.Error},
	} {
		if opt.value != "" {
			attrs = append(attrs, slog.String(opt.key, opt.value))
		}
	}

	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		meta := make([]any, 0, len(keys))
		for _, k := range keys {
			meta = append(meta, slog.String(k, e.Metadata[k]))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	return slog.GroupValue(attrs...)
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// SlogLogger writes the trail to a slog logger under the "audit" key.
// Failed operations are logged at warn level.
type SlogLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// Log fills the ID and timestamp when missing and writes the event
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	l.logger.LogAttrs(ctx, level, "audit_event", slog.Any("audit", event))

	return nil
}

// NoOpLogger discards every event (tests, or audit disabled)
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, Event) error {
	return nil
}
