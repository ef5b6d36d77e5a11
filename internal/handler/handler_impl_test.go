package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/handler"
	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/scheduler"
	"github.com/popeskul/wa-relay/internal/service"
	"github.com/popeskul/wa-relay/internal/service/mocks"
)

func newHandler(svc *service.Service) *handler.Handler {
	return handler.NewHandler(svc, nil, handler.Config{}, zap.NewNop())
}

func withRequestID(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "test-request-id"))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, body []byte) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestHandler_StartScheduler(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(*mocks.MockSchedulerService)
		expectedStatus int
		expectedBody   func(*testing.T, []byte)
	}{
		{
			name: "success",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Start().Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody: func(t *testing.T, body []byte) {
				var resp models.SchedulerResponse
				err := json.Unmarshal(body, &resp)
				assert.NoError(t, err)
				assert.Equal(t, models.SchedulerResponseStatusStarted, resp.Status)
				assert.Equal(t, "Scheduler started successfully", resp.Message)
			},
		},
		{
			name: "scheduler already running",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Start().Return(scheduler.ErrSchedulerAlreadyRunning)
			},
			expectedStatus: http.StatusConflict,
			expectedBody: func(t *testing.T, body []byte) {
				resp := decodeError(t, body)
				assert.Equal(t, "SCHEDULER_ALREADY_RUNNING", resp.Error)
				assert.Equal(t, "Scheduler is already running", resp.Message)
			},
		},
		{
			name: "internal error",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Start().Return(errors.New("internal error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody: func(t *testing.T, body []byte) {
				resp := decodeError(t, body)
				assert.Equal(t, middleware.ErrorCodeInternal, resp.Error)
				assert.Equal(t, "Failed to start scheduler", resp.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockScheduler := mocks.NewMockSchedulerService(ctrl)
			tt.setupMocks(mockScheduler)

			h := newHandler(&service.Service{Scheduler: mockScheduler})

			req := withRequestID(httptest.NewRequest(http.MethodPost, "/api/scheduler/start", nil))
			w := httptest.NewRecorder()

			h.StartScheduler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.expectedBody(t, w.Body.Bytes())
		})
	}
}

func TestHandler_StopScheduler(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(*mocks.MockSchedulerService)
		expectedStatus int
		expectedBody   func(*testing.T, []byte)
	}{
		{
			name: "success",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Stop().Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody: func(t *testing.T, body []byte) {
				var resp models.SchedulerResponse
				err := json.Unmarshal(body, &resp)
				assert.NoError(t, err)
				assert.Equal(t, models.SchedulerResponseStatusStopped, resp.Status)
				assert.Equal(t, "Scheduler stopped successfully", resp.Message)
			},
		},
		{
			name: "scheduler not running",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Stop().Return(scheduler.ErrSchedulerNotRunning)
			},
			expectedStatus: http.StatusConflict,
			expectedBody: func(t *testing.T, body []byte) {
				resp := decodeError(t, body)
				assert.Equal(t, "SCHEDULER_NOT_RUNNING", resp.Error)
				assert.Equal(t, "Scheduler is not running", resp.Message)
			},
		},
		{
			name: "internal error",
			setupMocks: func(m *mocks.MockSchedulerService) {
				m.EXPECT().Stop().Return(errors.New("internal error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody: func(t *testing.T, body []byte) {
				resp := decodeError(t, body)
				assert.Equal(t, middleware.ErrorCodeInternal, resp.Error)
				assert.Equal(t, "Failed to stop scheduler", resp.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockScheduler := mocks.NewMockSchedulerService(ctrl)
			tt.setupMocks(mockScheduler)

			h := newHandler(&service.Service{Scheduler: mockScheduler})

			req := withRequestID(httptest.NewRequest(http.MethodPost, "/api/scheduler/stop", nil))
			w := httptest.NewRecorder()

			h.StopScheduler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.expectedBody(t, w.Body.Bytes())
		})
	}
}

func TestHandler_HealthCheck(t *testing.T) {
	connected := models.ComponentConnected
	disconnected := models.ComponentDisconnected
	running := models.ComponentRunning

	tests := []struct {
		name           string
		health         *models.HealthResponse
		expectedStatus int
	}{
		{
			name: "healthy status",
			health: &models.HealthResponse{
				Status:          models.Healthy,
				SchedulerStatus: &running,
				DatabaseStatus:  &connected,
				RedisStatus:     &connected,
				Observers:       2,
				MediaQueueDepth: 3,
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "unhealthy status",
			health: &models.HealthResponse{
				Status:         models.Unhealthy,
				DatabaseStatus: &disconnected,
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "degraded status",
			health: &models.HealthResponse{
				Status:         models.Degraded,
				DatabaseStatus: &connected,
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			mockHealth := mocks.NewMockHealthService(ctrl)
			mockHealth.EXPECT().GetHealth().Return(tt.health)

			h := newHandler(&service.Service{Health: mockHealth})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()

			h.HealthCheck(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp models.HealthResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.health.Status, resp.Status)
			assert.Equal(t, tt.health.Observers, resp.Observers)
			assert.Equal(t, tt.health.MediaQueueDepth, resp.MediaQueueDepth)
			assert.Equal(t, tt.health.DatabaseStatus, resp.DatabaseStatus)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}
