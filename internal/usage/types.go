package usage

import (
	"time"

	"github.com/google/uuid"
)

// Counters kept per tenant and day in usage_daily
const (
	FieldSessionsStarted = "sessions_started"
	FieldCapturesStored  = "captures_stored"
	FieldFramesProcessed = "frames_processed"
)

var validFields = map[string]bool{
	FieldSessionsStarted: true,
	FieldCapturesStored:  true,
	FieldFramesProcessed: true,
}

// Plan carries the monthly session quota. QuotaSessions < 0 means unlimited.
type Plan struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	MonthlyPrice  float64   `json:"monthly_price"`
	QuotaSessions int       `json:"quota_sessions"`
	OveragePrice  float64   `json:"overage_price"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type UsageRecord struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Date            time.Time `json:"date"`
	SessionsStarted int       `json:"sessions_started"`
	CapturesStored  int       `json:"captures_stored"`
	FramesProcessed int64     `json:"frames_processed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type UsageAlert struct {
	Type       string  `json:"type"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

type UsageSummary struct {
	Period          string         `json:"period"`
	Plan            Plan           `json:"plan"`
	Sessions        UsageDetail    `json:"sessions"`
	CapturesStored  int            `json:"captures_stored"`
	FramesProcessed int64          `json:"frames_processed"`
	CompletionRate  float64        `json:"completion_rate"`
	Billing         BillingSummary `json:"billing"`
	Alerts          []UsageAlert   `json:"alerts,omitempty"`
}

type UsageDetail struct {
	Used       int     `json:"used"`
	Quota      int     `json:"quota"`
	Percentage float64 `json:"percentage"`
	Overage    int     `json:"overage"`
}

type BillingSummary struct {
	BaseFee    float64 `json:"base_fee"`
	OverageFee float64 `json:"overage_fee"`
	Total      float64 `json:"total"`
}
