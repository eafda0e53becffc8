package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// ChallengeState is the progress of the head-pose challenge
type ChallengeState struct {
	Step             string  `json:"step" example:"left"`
	LockedTrackingID *int64  `json:"locked_tracking_id,omitempty" example:"7"`
	LastAdvanceAt    *string `json:"last_advance_at,omitempty" example:"2024-01-01T00:00:02Z"`
	Captured         bool    `json:"captured" example:"false"`
}

// SessionResponse represents a liveness session
type SessionResponse struct {
	ID                   string         `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status               string         `json:"status" example:"active"`
	State                ChallengeState `json:"state"`
	Resets               int            `json:"resets" example:"0"`
	FramesProcessed      int64          `json:"frames_processed" example:"42"`
	ExpiresAt            string         `json:"expires_at" example:"2024-01-01T00:10:00Z"`
	CreatedAt            string         `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt            string         `json:"updated_at" example:"2024-01-01T00:00:02Z"`
	Prompt               string         `json:"prompt" example:"Please look straight at the camera."`
	StreamToken          string         `json:"stream_token,omitempty" example:"eyJhbGciOiJIUzI1NiJ9..."`
	StreamTokenExpiresAt string         `json:"stream_token_expires_at,omitempty" example:"2024-01-01T00:10:00Z"`
}

// ObservationData is one face seen on a frame
type ObservationData struct {
	TrackingID       *int64   `json:"tracking_id,omitempty" example:"7"`
	Yaw              float64  `json:"yaw" example:"41.5"`
	SmileProbability *float64 `json:"smile_probability,omitempty" example:"0.12"`
}

// ObservationsRequest carries the faces detected on one client frame
type ObservationsRequest struct {
	Observations []ObservationData `json:"observations"`
}

// OutcomeData is the result of feeding one frame to the session
type OutcomeData struct {
	Kind string `json:"kind" example:"step_completed"`
	Step string `json:"step" example:"front"`
}

// AdvanceResponse represents the session state after a frame
type AdvanceResponse struct {
	SessionID           string      `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Outcome             OutcomeData `json:"outcome"`
	CurrentStep         string      `json:"current_step" example:"left"`
	Status              string      `json:"status" example:"active"`
	Prompt              string      `json:"prompt,omitempty" example:"Front face detected, please show your left face."`
	Captured            bool        `json:"captured" example:"false"`
	CooldownRemainingMs int64       `json:"cooldown_remaining_ms" example:"2000"`
	FacesDetected       *int        `json:"faces_detected,omitempty" example:"1"`
	CaptureID           *string     `json:"capture_id,omitempty" example:"8d3e1c52-7f4b-4c1e-9a51-0f5d8f0c1a11"`
}

// CaptureData describes a stored selfie
type CaptureData struct {
	ID            string          `json:"id" example:"8d3e1c52-7f4b-4c1e-9a51-0f5d8f0c1a11"`
	SessionID     string          `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Source        string          `json:"source" example:"client"`
	ContentType   string          `json:"content_type" example:"image/jpeg"`
	SizeBytes     int             `json:"size_bytes" example:"48213"`
	SHA256        string          `json:"sha256" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	LivenessScore *float64        `json:"liveness_score,omitempty" example:"0.93"`
	Checks        map[string]bool `json:"checks,omitempty"`
	CreatedAt     string          `json:"created_at" example:"2024-01-01T00:00:09Z"`
}

// CaptureResponse wraps a stored selfie
type CaptureResponse struct {
	Capture CaptureData `json:"capture"`
}

// CreateWebhookRequest registers a webhook
type CreateWebhookRequest struct {
	Name    string   `json:"name" example:"capture-notifier"`
	URL     string   `json:"url" example:"https://example.com/hooks/liveness"`
	Events  []string `json:"events" example:"liveness.captured"`
	Enabled bool     `json:"enabled" example:"true"`
}

// WebhookData represents a registered webhook
type WebhookData struct {
	ID              string   `json:"id" example:"3f2c1b9e-3d0a-4c39-9a3e-1d2f6b7c8e90"`
	Name            string   `json:"name" example:"capture-notifier"`
	URL             string   `json:"url" example:"https://example.com/hooks/liveness"`
	Events          []string `json:"events" example:"liveness.captured"`
	Enabled         bool     `json:"enabled" example:"true"`
	LastTriggeredAt *string  `json:"last_triggered_at,omitempty" example:"2024-01-01T00:00:09Z"`
	CreatedAt       string   `json:"created_at" example:"2024-01-01T00:00:00Z"`
	UpdatedAt       string   `json:"updated_at" example:"2024-01-01T00:00:00Z"`
}

// WebhookListResponse lists the webhooks of a tenant
type WebhookListResponse struct {
	Webhooks []WebhookData `json:"webhooks"`
}

// CreateWebhookResponse returns the webhook and its signing secret
type CreateWebhookResponse struct {
	Webhook WebhookData `json:"webhook"`
	Secret  string      `json:"secret" example:"whsec_4c2a8f0e9b..."`
}

// UsageDetail is the session count against the plan quota
type UsageDetail struct {
	Used       int     `json:"used" example:"812"`
	Quota      int     `json:"quota" example:"1000"`
	Percentage float64 `json:"percentage" example:"81.2"`
	Overage    int     `json:"overage" example:"0"`
}

// BillingData is the estimated bill for the period
type BillingData struct {
	BaseFee    float64 `json:"base_fee" example:"99"`
	OverageFee float64 `json:"overage_fee" example:"0"`
	Total      float64 `json:"total" example:"99"`
}

// UsageAlertData flags a quota threshold
type UsageAlertData struct {
	Type       string  `json:"type" example:"quota.warning"`
	Percentage float64 `json:"percentage" example:"81.2"`
	Message    string  `json:"message" example:"Liveness sessions quota warning: 81% used (812/1000)"`
}

// UsageResponse summarises one billing month
type UsageResponse struct {
	Period          string           `json:"period" example:"2026-05"`
	Sessions        UsageDetail      `json:"sessions"`
	CapturesStored  int              `json:"captures_stored" example:"640"`
	FramesProcessed int64            `json:"frames_processed" example:"96512"`
	CompletionRate  float64          `json:"completion_rate" example:"0.79"`
	Billing         BillingData      `json:"billing"`
	Alerts          []UsageAlertData `json:"alerts,omitempty"`
}

// ErrorResponse is the body of the "error" object every failure returns
type ErrorResponse struct {
	Code      string `json:"code" example:"VALIDATION_FAILED"`
	Message   string `json:"message" example:"Request validation failed"`
	RequestID string `json:"request_id,omitempty" example:"b7f3c0de-0d6f-4a53-8d0a-2f1f5f7a9c11"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

var (
	errUnauthorized    = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing API key"}, "401", "Unauthorized")
	errSessionNotFound = response.New(ErrorResponse{Code: "LIVENESS_SESSION_NOT_FOUND", Message: "Liveness session not found"}, "404", "Not Found")
	errSessionEnded    = response.New(ErrorResponse{Code: "LIVENESS_SESSION_ENDED", Message: "Liveness session has already ended"}, "409", "Conflict")
	errSessionExpired  = response.New(ErrorResponse{Code: "LIVENESS_SESSION_EXPIRED", Message: "Liveness session has expired, start a new one"}, "410", "Gone")
	errRateLimited     = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests")
	errSecretKey       = response.New(ErrorResponse{Code: "SECRET_KEY_REQUIRED", Message: "This endpoint requires a secret (sk_) API key"}, "403", "Forbidden")
	errInternal        = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	apiKeyAuth         = endpoint.WithSecurity([]map[string][]string{{"ApiKeyAuth": {}}})
	sessionIDParam     = endpoint.WithParams(
		parameter.StrParam("id", parameter.Path, parameter.WithDescription("Liveness session ID")),
	)
)

// NewSwagger creates the API documentation
func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Rekko Liveness API",
		Version:     "v1.0.0",
		Description: "Active liveness challenge (front, left, right, smile) with selfie capture and multi-tenancy support. Publishable keys (pk_) may only drive the challenge; reading selfies, webhooks and usage need a secret key (sk_).",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/liveness/sessions - Start Session
		endpoint.New(
			endpoint.POST,
			"/liveness/sessions",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Start a liveness session"),
			endpoint.WithDescription("Creates a session at the front step. The stream token opens /liveness/sessions/{id}/stream without the API key."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "201", "Session started"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "SESSION_RATE_LIMIT_EXCEEDED", Message: "Too many liveness sessions started, try again later"}, "429", "Too Many Requests"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/liveness/sessions/{id} - Get Session
		endpoint.New(
			endpoint.GET,
			"/liveness/sessions/{id}",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Get a liveness session"),
			endpoint.WithDescription("Returns the session status, the challenge step and the prompt for the pending pose"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(SessionResponse{}, "200", "Session retrieved"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSessionNotFound,
				errInternal,
			}),
			apiKeyAuth,
		),

		// POST /v1/liveness/sessions/{id}/observations - Submit Observations
		endpoint.New(
			endpoint.POST,
			"/liveness/sessions/{id}/observations",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Submit the faces detected on one frame"),
			endpoint.WithDescription("Feeds client-side detections to the challenge. Observation timestamps are ignored; the server clock drives the cooldown."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithBody(ObservationsRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AdvanceResponse{}, "200", "Frame processed"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSessionNotFound,
				errSessionEnded,
				errSessionExpired,
				response.New(ErrorResponse{Code: "INVALID_OBSERVATION", Message: "Observation payload is invalid"}, "422", "Unprocessable Entity"),
				errRateLimited,
				errInternal,
			}),
			apiKeyAuth,
		),

		// POST /v1/liveness/sessions/{id}/frames - Submit Frame
		endpoint.New(
			endpoint.POST,
			"/liveness/sessions/{id}/frames",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Submit a camera frame for server-side detection"),
			endpoint.WithDescription("Detects faces with the configured provider, tracks them across frames and feeds them to the challenge. The frame that completes the smile step is stored as the selfie."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AdvanceResponse{}, "200", "Frame processed"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				response.New(ErrorResponse{Code: "FORBIDDEN", Message: "Access denied"}, "403", "Forbidden"),
				errSessionNotFound,
				errSessionEnded,
				errSessionExpired,
				response.New(ErrorResponse{Code: "INVALID_IMAGE", Message: "Invalid image format or corrupted file"}, "422", "Unprocessable Entity"),
				errRateLimited,
				errInternal,
			}),
			apiKeyAuth,
		),

		// POST /v1/liveness/sessions/{id}/reset - Reset Session
		endpoint.New(
			endpoint.POST,
			"/liveness/sessions/{id}/reset",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Restart the challenge"),
			endpoint.WithDescription("Moves the session back to the front step and releases the tracking lock"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AdvanceResponse{}, "200", "Session reset"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSessionNotFound,
				errSessionEnded,
				errSessionExpired,
				errInternal,
			}),
			apiKeyAuth,
		),

		// POST /v1/liveness/sessions/{id}/capture - Store Selfie
		endpoint.New(
			endpoint.POST,
			"/liveness/sessions/{id}/capture",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Upload the selfie"),
			endpoint.WithDescription("Stores the selfie once the challenge requested it. Accepted once per session."),
			endpoint.WithConsume([]mime.MIME{mime.MIME("multipart/form-data")}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CaptureResponse{}, "201", "Selfie stored"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSessionNotFound,
				response.New(ErrorResponse{Code: "CAPTURE_NOT_AUTHORIZED", Message: "Challenge not completed, capture is not allowed yet"}, "409", "Conflict"),
				response.New(ErrorResponse{Code: "CAPTURE_ALREADY_STORED", Message: "A selfie was already captured for this session"}, "409", "Conflict"),
				errSessionExpired,
				response.New(ErrorResponse{Code: "INVALID_IMAGE", Message: "Invalid image format or corrupted file"}, "422", "Unprocessable Entity"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/liveness/sessions/{id}/capture - Get Selfie Metadata
		endpoint.New(
			endpoint.GET,
			"/liveness/sessions/{id}/capture",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Get the stored selfie metadata"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CaptureResponse{}, "200", "Selfie metadata"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSecretKey,
				response.New(ErrorResponse{Code: "NOT_FOUND", Message: "Resource not found"}, "404", "Not Found"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/liveness/sessions/{id}/capture/image - Download Selfie
		endpoint.New(
			endpoint.GET,
			"/liveness/sessions/{id}/capture/image",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("Download the stored selfie"),
			endpoint.WithProduce([]mime.MIME{mime.MIME("image/jpeg"), mime.MIME("image/png"), mime.MIME("image/webp")}),
			sessionIDParam,
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSecretKey,
				response.New(ErrorResponse{Code: "NOT_FOUND", Message: "Resource not found"}, "404", "Not Found"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// DELETE /v1/liveness/sessions/{id} - End Session
		endpoint.New(
			endpoint.DELETE,
			"/liveness/sessions/{id}",
			endpoint.WithTags("Liveness"),
			endpoint.WithSummary("End a liveness session"),
			endpoint.WithDescription("Abandons the session. Further frames are rejected."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			sessionIDParam,
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Session ended"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSessionNotFound,
				errSessionEnded,
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/webhooks - List Webhooks
		endpoint.New(
			endpoint.GET,
			"/webhooks",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("List webhooks"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookListResponse{}, "200", "Webhooks of the tenant"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSecretKey,
				errInternal,
			}),
			apiKeyAuth,
		),

		// POST /v1/webhooks - Create Webhook
		endpoint.New(
			endpoint.POST,
			"/webhooks",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Register a webhook"),
			endpoint.WithDescription("Subscribes a URL to liveness.capture_requested, liveness.captured, liveness.session_ended or the quota.* alerts. Each delivery carries X-Rekko-Signature: t=<unix>,v1=<hex HMAC-SHA256 of \"<t>.<body>\"> keyed with the returned secret, shown only once. Reject deliveries older than 5 minutes."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithBody(CreateWebhookRequest{}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(CreateWebhookResponse{}, "201", "Webhook created"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request"),
				errUnauthorized,
				errSecretKey,
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "invalid webhook: url must be an absolute http(s) url"}, "422", "Unprocessable Entity"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// DELETE /v1/webhooks/{id} - Delete Webhook
		endpoint.New(
			endpoint.DELETE,
			"/webhooks/{id}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Delete a webhook"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Webhook ID")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Webhook deleted"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSecretKey,
				response.New(ErrorResponse{Code: "NOT_FOUND", Message: "Resource not found"}, "404", "Not Found"),
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/usage - Current Usage
		endpoint.New(
			endpoint.GET,
			"/usage",
			endpoint.WithTags("Usage"),
			endpoint.WithSummary("Usage of the current month"),
			endpoint.WithDescription("Sessions started against the plan quota, captures stored and frames processed. Counters are flushed periodically and may lag a few seconds."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(UsageResponse{}, "200", "Usage summary"),
			}),
			endpoint.WithErrors([]response.Response{
				errUnauthorized,
				errSecretKey,
				errInternal,
			}),
			apiKeyAuth,
		),

		// GET /v1/usage/{period} - Usage For Period
		endpoint.New(
			endpoint.GET,
			"/usage/{period}",
			endpoint.WithTags("Usage"),
			endpoint.WithSummary("Usage of a past month"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("period", parameter.Path, parameter.WithDescription("Month formatted as YYYY-MM")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(UsageResponse{}, "200", "Usage summary"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "period must be formatted as YYYY-MM"}, "400", "Bad Request"),
				errUnauthorized,
				errSecretKey,
				errInternal,
			}),
			apiKeyAuth,
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
