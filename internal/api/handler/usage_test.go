package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/domain"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/usage"
)

type MockUsageReader struct {
	mock.Mock
}

func (m *MockUsageReader) GetCurrentUsage(ctx context.Context, tenantID uuid.UUID, planID string) (*usage.UsageSummary, error) {
	args := m.Called(ctx, tenantID, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usage.UsageSummary), args.Error(1)
}

func (m *MockUsageReader) GetUsageForPeriod(ctx context.Context, tenantID uuid.UUID, planID, period string) (*usage.UsageSummary, error) {
	args := m.Called(ctx, tenantID, planID, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usage.UsageSummary), args.Error(1)
}

func newUsageApp(reader UsageReader, tenant *domain.Tenant) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(testLogger())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalTenantID, tenant.ID)
		c.Locals(middleware.LocalTenant, tenant)
		return c.Next()
	})

	h := NewUsageHandler(reader, testLogger())
	app.Get("/v1/usage", h.Current)
	app.Get("/v1/usage/:period", h.ForPeriod)
	return app
}

func TestUsageHandler_Current(t *testing.T) {
	tenant := &domain.Tenant{ID: uuid.New(), Plan: domain.PlanPro, IsActive: true}

	reader := new(MockUsageReader)
	reader.On("GetCurrentUsage", mock.Anything, tenant.ID, domain.PlanPro).Return(&usage.UsageSummary{
		Period:   "2026-04",
		Sessions: usage.UsageDetail{Used: 12, Quota: 10000},
	}, nil)

	resp, err := newUsageApp(reader, tenant).Test(httptest.NewRequest("GET", "/v1/usage", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "2026-04", body["period"])
	assert.EqualValues(t, 12, body["sessions"].(map[string]interface{})["used"])
	reader.AssertExpectations(t)
}

func TestUsageHandler_ForPeriod(t *testing.T) {
	tenant := &domain.Tenant{ID: uuid.New(), Plan: domain.PlanStarter, IsActive: true}

	tests := []struct {
		name           string
		period         string
		readerErr      error
		expectCall     bool
		expectedStatus int
	}{
		{name: "valid period", period: "2026-01", expectCall: true, expectedStatus: fiber.StatusOK},
		{name: "malformed period", period: "2026-13", expectedStatus: fiber.StatusBadRequest},
		{name: "unknown plan", period: "2026-01", readerErr: usage.ErrPlanNotFound, expectCall: true, expectedStatus: fiber.StatusNotFound},
		{name: "store failure", period: "2026-01", readerErr: errors.New("timeout"), expectCall: true, expectedStatus: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(MockUsageReader)
			if tt.expectCall {
				var summary *usage.UsageSummary
				if tt.readerErr == nil {
					summary = &usage.UsageSummary{Period: tt.period}
				}
				reader.On("GetUsageForPeriod", mock.Anything, tenant.ID, domain.PlanStarter, tt.period).
					Return(summary, tt.readerErr)
			}

			resp, err := newUsageApp(reader, tenant).Test(httptest.NewRequest("GET", "/v1/usage/"+tt.period, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			reader.AssertExpectations(t)
		})
	}
}
