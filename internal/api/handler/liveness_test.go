package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/liveness"
)

// MockLivenessService is a mock implementation of LivenessService
type MockLivenessService struct {
	mock.Mock
}

func (m *MockLivenessService) StartSession(ctx context.Context, tenant *domain.Tenant) (*domain.LivenessSession, error) {
	args := m.Called(ctx, tenant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessSession), args.Error(1)
}

func (m *MockLivenessService) GetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessSession, error) {
	args := m.Called(ctx, tenant, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessSession), args.Error(1)
}

func (m *MockLivenessService) SubmitObservations(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, observations []liveness.Observation) (*domain.AdvanceResult, error) {
	args := m.Called(ctx, tenant, sessionID, observations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AdvanceResult), args.Error(1)
}

func (m *MockLivenessService) SubmitFrame(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte) (*domain.AdvanceResult, error) {
	args := m.Called(ctx, tenant, sessionID, image)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AdvanceResult), args.Error(1)
}

func (m *MockLivenessService) ResetSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.AdvanceResult, error) {
	args := m.Called(ctx, tenant, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AdvanceResult), args.Error(1)
}

func (m *MockLivenessService) StoreCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID, image []byte, contentType string) (*domain.LivenessCapture, error) {
	args := m.Called(ctx, tenant, sessionID, image, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessCapture), args.Error(1)
}

func (m *MockLivenessService) GetCapture(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) (*domain.LivenessCapture, error) {
	args := m.Called(ctx, tenant, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LivenessCapture), args.Error(1)
}

func (m *MockLivenessService) EndSession(ctx context.Context, tenant *domain.Tenant, sessionID uuid.UUID) error {
	args := m.Called(ctx, tenant, sessionID)
	return args.Error(0)
}

type stubIssuer struct {
	token     string
	expiresAt time.Time
	err       error
}

func (s stubIssuer) Issue(tenantID, sessionID uuid.UUID) (string, time.Time, error) {
	return s.token, s.expiresAt, s.err
}

// testLogger returns a logger that discards all output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper to create multipart request
func createMultipartRequest(imageContent []byte, contentType string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if imageContent != nil {
		// Create part with custom Content-Type header
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="frame.jpg"`)
		h.Set("Content-Type", contentType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		_, _ = part.Write(imageContent)
	}

	_ = writer.Close()
	return body, writer.FormDataContentType(), nil
}

// Helper to create test app with tenant in context
func createTestApp(h *LivenessHandler, tenantID uuid.UUID) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(testLogger())})

	// Middleware that simulates authentication
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalTenantID, tenantID)
		c.Locals(middleware.LocalTenant, &domain.Tenant{
			ID:       tenantID,
			Name:     "Test Tenant",
			Slug:     "test-tenant",
			IsActive: true,
			Plan:     domain.PlanStarter,
		})
		return c.Next()
	})

	v1 := app.Group("/v1/liveness/sessions")
	v1.Post("/", h.StartSession)
	v1.Get("/:id", h.GetSession)
	v1.Post("/:id/observations", h.SubmitObservations)
	v1.Post("/:id/frames", h.SubmitFrame)
	v1.Post("/:id/reset", h.ResetSession)
	v1.Post("/:id/capture", h.StoreCapture)
	v1.Get("/:id/capture", h.GetCapture)
	v1.Get("/:id/capture/image", h.GetCaptureImage)
	v1.Delete("/:id", h.EndSession)

	return app
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&body))
	return body
}

func TestLivenessHandler_StartSession(t *testing.T) {
	tenantID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := domain.NewLivenessSession(tenantID, 10*time.Minute, now)

	tests := []struct {
		name           string
		tokens         StreamTokenIssuer
		setupMock      func(*MockLivenessService)
		expectedStatus int
		expectToken    bool
	}{
		{
			name: "creates session with stream token",
			tokens: stubIssuer{
				token:     "stream-token",
				expiresAt: now.Add(10 * time.Minute),
			},
			setupMock: func(m *MockLivenessService) {
				m.On("StartSession", mock.Anything, mock.AnythingOfType("*domain.Tenant")).Return(session, nil)
			},
			expectedStatus: fiber.StatusCreated,
			expectToken:    true,
		},
		{
			name: "creates session without issuer",
			setupMock: func(m *MockLivenessService) {
				m.On("StartSession", mock.Anything, mock.AnythingOfType("*domain.Tenant")).Return(session, nil)
			},
			expectedStatus: fiber.StatusCreated,
		},
		{
			name: "session rate limit",
			setupMock: func(m *MockLivenessService) {
				m.On("StartSession", mock.Anything, mock.AnythingOfType("*domain.Tenant")).Return(nil, domain.ErrSessionRateLimitExceeded)
			},
			expectedStatus: fiber.StatusTooManyRequests,
		},
		{
			name:   "issuer failure",
			tokens: stubIssuer{err: errors.New("no key")},
			setupMock: func(m *MockLivenessService) {
				m.On("StartSession", mock.Anything, mock.AnythingOfType("*domain.Tenant")).Return(session, nil)
			},
			expectedStatus: fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLivenessService)
			tt.setupMock(svc)

			app := createTestApp(NewLivenessHandler(svc, tt.tokens, testLogger()), tenantID)

			resp, err := app.Test(httptest.NewRequest("POST", "/v1/liveness/sessions/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == fiber.StatusCreated {
				body := decodeBody(t, resp.Body)
				assert.Equal(t, session.ID.String(), body["id"])
				assert.Equal(t, "active", body["status"])
				assert.Equal(t, "Please look straight at the camera.", body["prompt"])
				if tt.expectToken {
					assert.Equal(t, "stream-token", body["stream_token"])
					assert.NotEmpty(t, body["stream_token_expires_at"])
				} else {
					assert.NotContains(t, body, "stream_token")
				}
			}

			svc.AssertExpectations(t)
		})
	}
}

func TestLivenessHandler_GetSession(t *testing.T) {
	tenantID := uuid.New()
	session := domain.NewLivenessSession(tenantID, 10*time.Minute, time.Now())
	session.State.Step = liveness.StepRight

	t.Run("returns session and pending prompt", func(t *testing.T) {
		svc := new(MockLivenessService)
		svc.On("GetSession", mock.Anything, mock.AnythingOfType("*domain.Tenant"), session.ID).Return(session, nil)

		app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/liveness/sessions/"+session.ID.String(), nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp.Body)
		state := body["state"].(map[string]interface{})
		assert.Equal(t, "right", state["step"])
		assert.Equal(t, liveness.StepLeft.Prompt(), body["prompt"])
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		svc := new(MockLivenessService)

		app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/liveness/sessions/not-a-uuid", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		svc.AssertNotCalled(t, "GetSession", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLivenessHandler_SubmitObservations(t *testing.T) {
	tenantID := uuid.New()
	sessionID := uuid.New()

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockLivenessService)
		expectedStatus int
		expectedKind   string
	}{
		{
			name: "advances session",
			body: `{"observations":[{"tracking_id":7,"yaw":2.5}]}`,
			setupMock: func(m *MockLivenessService) {
				m.On("SubmitObservations", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID,
					mock.MatchedBy(func(obs []liveness.Observation) bool {
						return len(obs) == 1 && obs[0].TrackingID != nil && *obs[0].TrackingID == 7 && obs[0].YawDegrees == 2.5
					}),
				).Return(&domain.AdvanceResult{
					SessionID:   sessionID,
					Outcome:     liveness.Outcome{Kind: liveness.StepCompleted, Step: liveness.StepFront},
					CurrentStep: liveness.StepLeft,
					Status:      domain.SessionActive,
					Prompt:      liveness.StepFront.Prompt(),
				}, nil)
			},
			expectedStatus: fiber.StatusOK,
			expectedKind:   "step_completed",
		},
		{
			name: "empty frame",
			body: `{"observations":[]}`,
			setupMock: func(m *MockLivenessService) {
				m.On("SubmitObservations", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID, []liveness.Observation{}).
					Return(&domain.AdvanceResult{SessionID: sessionID, Status: domain.SessionActive}, nil)
			},
			expectedStatus: fiber.StatusOK,
			expectedKind:   "no_change",
		},
		{
			name:           "malformed body",
			body:           `{"observations":`,
			setupMock:      func(m *MockLivenessService) {},
			expectedStatus: fiber.StatusUnprocessableEntity,
		},
		{
			name:           "too many faces",
			body:           `{"observations":[` + strings.TrimSuffix(strings.Repeat(`{"yaw":0},`, maxObservationsPerFrame+1), ",") + `]}`,
			setupMock:      func(m *MockLivenessService) {},
			expectedStatus: fiber.StatusUnprocessableEntity,
		},
		{
			name: "expired session",
			body: `{"observations":[{"tracking_id":1,"yaw":0}]}`,
			setupMock: func(m *MockLivenessService) {
				m.On("SubmitObservations", mock.Anything, mock.Anything, sessionID, mock.Anything).Return(nil, domain.ErrLivenessSessionExpired)
			},
			expectedStatus: fiber.StatusGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLivenessService)
			tt.setupMock(svc)

			app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)

			req := httptest.NewRequest("POST", "/v1/liveness/sessions/"+sessionID.String()+"/observations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedKind != "" {
				body := decodeBody(t, resp.Body)
				outcome := body["outcome"].(map[string]interface{})
				assert.Equal(t, tt.expectedKind, outcome["kind"])
			}

			svc.AssertExpectations(t)
		})
	}
}

func TestLivenessHandler_SubmitFrame(t *testing.T) {
	tenantID := uuid.New()
	sessionID := uuid.New()
	frame := bytes.Repeat([]byte{0xFF}, 2048)

	tests := []struct {
		name           string
		image          []byte
		contentType    string
		setupMock      func(*MockLivenessService)
		expectedStatus int
	}{
		{
			name:        "valid frame",
			image:       frame,
			contentType: "image/jpeg",
			setupMock: func(m *MockLivenessService) {
				faces := 1
				m.On("SubmitFrame", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID, frame).
					Return(&domain.AdvanceResult{SessionID: sessionID, FacesDetected: &faces}, nil)
			},
			expectedStatus: fiber.StatusOK,
		},
		{
			name:           "missing image",
			setupMock:      func(m *MockLivenessService) {},
			expectedStatus: fiber.StatusUnprocessableEntity,
		},
		{
			name:           "unsupported type",
			image:          frame,
			contentType:    "image/gif",
			setupMock:      func(m *MockLivenessService) {},
			expectedStatus: fiber.StatusUnprocessableEntity,
		},
		{
			name:        "server detection disabled",
			image:       frame,
			contentType: "image/png",
			setupMock: func(m *MockLivenessService) {
				m.On("SubmitFrame", mock.Anything, mock.Anything, sessionID, frame).Return(nil, domain.ErrForbidden)
			},
			expectedStatus: fiber.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLivenessService)
			tt.setupMock(svc)

			app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)

			body, contentType, err := createMultipartRequest(tt.image, tt.contentType)
			require.NoError(t, err)

			req := httptest.NewRequest("POST", "/v1/liveness/sessions/"+sessionID.String()+"/frames", body)
			req.Header.Set("Content-Type", contentType)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			svc.AssertExpectations(t)
		})
	}
}

func TestLivenessHandler_Capture(t *testing.T) {
	tenantID := uuid.New()
	session := domain.NewLivenessSession(tenantID, 10*time.Minute, time.Now())
	selfie := bytes.Repeat([]byte{0xAB}, 4096)
	capture := domain.NewLivenessCapture(session, domain.CaptureSourceClient, selfie, "image/jpeg", time.Now())

	t.Run("stores selfie", func(t *testing.T) {
		svc := new(MockLivenessService)
		svc.On("StoreCapture", mock.Anything, mock.AnythingOfType("*domain.Tenant"), session.ID, selfie, "image/jpeg").Return(capture, nil)

		app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)
		body, contentType, err := createMultipartRequest(selfie, "image/jpeg")
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/v1/liveness/sessions/"+session.ID.String()+"/capture", body)
		req.Header.Set("Content-Type", contentType)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

		got := decodeBody(t, resp.Body)["capture"].(map[string]interface{})
		assert.Equal(t, capture.ID.String(), got["id"])
		assert.Equal(t, capture.SHA256, got["sha256"])
		assert.NotContains(t, got, "image")
		svc.AssertExpectations(t)
	})

	t.Run("capture before challenge", func(t *testing.T) {
		svc := new(MockLivenessService)
		svc.On("StoreCapture", mock.Anything, mock.Anything, session.ID, selfie, "image/jpeg").Return(nil, domain.ErrCaptureNotAuthorized)

		app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)
		body, contentType, err := createMultipartRequest(selfie, "image/jpeg")
		require.NoError(t, err)

		req := httptest.NewRequest("POST", "/v1/liveness/sessions/"+session.ID.String()+"/capture", body)
		req.Header.Set("Content-Type", contentType)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})

	t.Run("returns metadata and image", func(t *testing.T) {
		svc := new(MockLivenessService)
		svc.On("GetCapture", mock.Anything, mock.AnythingOfType("*domain.Tenant"), session.ID).Return(capture, nil).Twice()

		app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)

		resp, err := app.Test(httptest.NewRequest("GET", "/v1/liveness/sessions/"+session.ID.String()+"/capture", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp, err = app.Test(httptest.NewRequest("GET", "/v1/liveness/sessions/"+session.ID.String()+"/capture/image", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, selfie, raw)
		svc.AssertExpectations(t)
	})
}

func TestLivenessHandler_ResetAndEnd(t *testing.T) {
	tenantID := uuid.New()
	sessionID := uuid.New()

	svc := new(MockLivenessService)
	svc.On("ResetSession", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID).Return(&domain.AdvanceResult{
		SessionID:   sessionID,
		Outcome:     liveness.Outcome{Kind: liveness.Reset, Step: liveness.StepFront},
		CurrentStep: liveness.StepFront,
		Status:      domain.SessionActive,
	}, nil)
	svc.On("EndSession", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID).Return(nil).Once()
	svc.On("EndSession", mock.Anything, mock.AnythingOfType("*domain.Tenant"), sessionID).Return(domain.ErrLivenessSessionEnded).Once()

	app := createTestApp(NewLivenessHandler(svc, nil, testLogger()), tenantID)
	base := "/v1/liveness/sessions/" + sessionID.String()

	resp, err := app.Test(httptest.NewRequest("POST", base+"/reset", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", decodeBody(t, resp.Body)["outcome"].(map[string]interface{})["kind"])

	resp, err = app.Test(httptest.NewRequest("DELETE", base, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("DELETE", base, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	svc.AssertExpectations(t)
}
