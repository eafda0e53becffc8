package ws

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the liveness events pushed on /v1/ws. The names match the
// webhook event names so one consumer can handle both.
type EventType string

const (
	EventSessionStarted   EventType = "liveness.session_started"
	EventStepCompleted    EventType = "liveness.step_completed"
	EventSessionReset     EventType = "liveness.reset"
	EventCaptureRequested EventType = "liveness.capture_requested"
	EventCaptured         EventType = "liveness.captured"
	EventSessionEnded     EventType = "liveness.session_ended"
)

// Event is one message of the tenant stream. Seq grows by one per event
// delivered to the tenant's connections; a gap means a message was dropped.
type Event struct {
	TenantID  uuid.UUID   `json:"-"`
	Seq       uint64      `json:"seq"`
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
