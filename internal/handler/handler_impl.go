// Package handler provides HTTP request handlers for the application.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/popeskul/wa-relay/internal/middleware"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/realtime"
	"github.com/popeskul/wa-relay/internal/scheduler"
	"github.com/popeskul/wa-relay/internal/service"
)

const (
	errorCodeSchedulerAlreadyRunning = "SCHEDULER_ALREADY_RUNNING"
	errorCodeSchedulerNotRunning     = "SCHEDULER_NOT_RUNNING"
	errorCodeInvalidRequest          = "INVALID_REQUEST"
	errorCodeValidation              = "VALIDATION_ERROR"
	errorCodeNotFound                = "NOT_FOUND"
	errorCodeConfiguration           = "CONFIGURATION_ERROR"
	errorCodePayloadTooLarge         = "PAYLOAD_TOO_LARGE"
)

const (
	errorMessageSchedulerAlreadyRunning = "Scheduler is already running"
	errorMessageSchedulerNotRunning     = "Scheduler is not running"
	errorMessageFailedToStartScheduler  = "Failed to start scheduler"
	errorMessageFailedToStopScheduler   = "Failed to stop scheduler"
	errorMessageInvalidJSON             = "Request body is not valid JSON"
	errorMessageInvalidID               = "Identifier must be a positive integer"
	errorMessageConfiguration           = "Service is not configured for this operation"
)

const (
	schedulerMessageStarted = "Scheduler started successfully"
	schedulerMessageStopped = "Scheduler stopped successfully"
)

const (
	defaultPage         = 1
	defaultLimit        = 20
	maxLimit            = 100
	maxPage             = 1_000_000
	defaultWebhookBytes = 5 << 20
	defaultUploadBytes  = 25 << 20
)

// Registry accepts realtime observers. *realtime.Hub satisfies it.
type Registry interface {
	Register(o realtime.Observer) error
	Unregister(o realtime.Observer)
}

type Config struct {
	MaxWebhookBytes int64
	MaxUploadBytes  int64
	SendBuffer      int
	// AllowedOrigins restricts websocket upgrades. Empty or "*" allows any.
	AllowedOrigins []string
}

type Handler struct {
	service  *service.Service
	hub      Registry
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a new handler instance. hub may be nil when the
// realtime channel is not served.
func NewHandler(service *service.Service, hub Registry, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = defaultWebhookBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultUploadBytes
	}

	h := &Handler{
		service: service,
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	err := h.service.Scheduler.Start()
	if err != nil {
		if errors.Is(err, scheduler.ErrSchedulerAlreadyRunning) {
			h.sendError(w, r, http.StatusConflict, errorCodeSchedulerAlreadyRunning, errorMessageSchedulerAlreadyRunning)
			return
		}

		h.logger.Error("Failed to start scheduler",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToStartScheduler)
		return
	}

	render.JSON(w, r, models.SchedulerResponse{
		Status:  models.SchedulerResponseStatusStarted,
		Message: schedulerMessageStarted,
	})
}

func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	err := h.service.Scheduler.Stop()
	if err != nil {
		if errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			h.sendError(w, r, http.StatusConflict, errorCodeSchedulerNotRunning, errorMessageSchedulerNotRunning)
			return
		}

		h.logger.Error("Failed to stop scheduler",
			zap.String("request_id", requestID),
			zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, errorMessageFailedToStopScheduler)
		return
	}

	render.JSON(w, r, models.SchedulerResponse{
		Status:  models.SchedulerResponseStatusStopped,
		Message: schedulerMessageStopped,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health.GetHealth()

	// Degraded still answers 200 so the service stays routable.
	if health.Status == models.Unhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, health)
}

// sendServiceError maps the service error taxonomy onto HTTP statuses.
// fallback is the message used for unexpected failures.
func (h *Handler) sendServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		h.sendError(w, r, http.StatusBadRequest, errorCodeValidation, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.sendError(w, r, http.StatusNotFound, errorCodeNotFound, err.Error())
	case errors.Is(err, service.ErrConfiguration):
		h.logger.Error("Operation rejected by configuration",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, errorCodeConfiguration, errorMessageConfiguration)
	default:
		h.logger.Error(fallback,
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		h.sendError(w, r, http.StatusInternalServerError, middleware.ErrorCodeInternal, fallback)
	}
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	render.Status(r, statusCode)
	render.JSON(w, r, models.ErrorResponse{
		Error:   errorCode,
		Message: message,
		Timestamp: func() *time.Time {
			t := time.Now()
			return &t
		}(),
	})
}
