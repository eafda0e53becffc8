package webhook

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Event types a tenant can subscribe to
const (
	EventCaptureRequested = "liveness.capture_requested"
	EventCaptured         = "liveness.captured"
	EventSessionEnded     = "liveness.session_ended"

	EventQuotaWarning  = "quota.warning"
	EventQuotaCritical = "quota.critical"
	EventQuotaExceeded = "quota.exceeded"
)

var supportedEvents = []string{
	EventCaptureRequested,
	EventCaptured,
	EventSessionEnded,
	EventQuotaWarning,
	EventQuotaCritical,
	EventQuotaExceeded,
}

// IsSupportedEvent reports whether a webhook may subscribe to event
func IsSupportedEvent(event string) bool {
	return slices.Contains(supportedEvents, event)
}

// Job statuses in webhook_queue
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

type Webhook struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Job is a claimed webhook_queue row. Attempts counts the deliveries already
// tried before this one.
type Job struct {
	ID          uuid.UUID
	WebhookID   uuid.UUID
	EventType   string
	Payload     []byte
	Attempts    int
	MaxAttempts int
}

// EventPayload is the signed JSON body posted to the tenant endpoint
type EventPayload struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	TenantID  uuid.UUID   `json:"tenant_id"`
	Timestamp time.Time   `json:"timestamp"`
}
