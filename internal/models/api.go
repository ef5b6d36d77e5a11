package models

import "time"

// Realtime event names pushed to observers.
const (
	EventMessageIncoming     = "message_incoming"
	EventMessageOutgoing     = "message_outgoing"
	EventMessageMediaUpdated = "message_media_updated"
	EventMessageDeleted      = "message_deleted"
)

// Envelope is the realtime broadcast frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type SendMessageRequest struct {
	To               string `json:"to" validate:"required_without=ConversationID,max=32"`
	ConversationID   int64  `json:"conversationId" validate:"required_without=To,gte=0"`
	Body             string `json:"body" validate:"required_without=MediaURL,max=4096"`
	MediaURL         string `json:"media_url" validate:"required_without=Body,max=2048"`
	ReplyToMessageID int64  `json:"replyToMessageId" validate:"gte=0"`
}

// MediaResponse is the rendered media descriptor with signed URLs.
type MediaResponse struct {
	Origin           MediaOrigin `json:"origin"`
	Type             MediaType   `json:"type"`
	Status           MediaStatus `json:"status"`
	MimeType         string      `json:"mime_type,omitempty"`
	Filename         string      `json:"filename,omitempty"`
	SizeBytes        int64       `json:"size_bytes,omitempty"`
	Width            int         `json:"width,omitempty"`
	Height           int         `json:"height,omitempty"`
	DurationSeconds  float64     `json:"duration_seconds,omitempty"`
	URL              *string     `json:"url,omitempty"`
	ThumbnailURL     *string     `json:"thumbnail_url,omitempty"`
	PreviewURL       *string     `json:"preview_url,omitempty"`
	PlaceholderURL   *string     `json:"placeholder_url,omitempty"`
	DownloadAttempts int         `json:"download_attempts"`
	DownloadError    *string     `json:"download_error,omitempty"`
}

type MessageResponse struct {
	ID                int64            `json:"id"`
	ConversationID    int64            `json:"conversation_id"`
	Direction         MessageDirection `json:"direction"`
	Body              *string          `json:"body,omitempty"`
	Media             *MediaResponse   `json:"media,omitempty"`
	ProviderMessageID *string          `json:"provider_message_id,omitempty"`
	Status            MessageStatus    `json:"status"`
	ReplyToMessageID  *int64           `json:"reply_to_message_id,omitempty"`
	Error             *string          `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type ConversationResponse struct {
	ID          int64     `json:"id"`
	Phone       string    `json:"phone"`
	DisplayName *string   `json:"display_name,omitempty"`
	LastAt      time.Time `json:"last_at"`
	Archived    bool      `json:"archived"`
}

// MessageEvent is the payload of message_* realtime events.
type MessageEvent struct {
	Conversation ConversationResponse `json:"conversation"`
	Message      MessageResponse      `json:"message"`
}

type MessageDeletedEvent struct {
	ID             int64 `json:"id"`
	ConversationID int64 `json:"conversation_id"`
}

type Pagination struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
}

type MessageListResponse struct {
	Messages   []MessageResponse `json:"messages"`
	Pagination Pagination        `json:"pagination"`
}

type UploadResponse struct {
	Path      string    `json:"path"`
	URL       string    `json:"url"`
	Type      MediaType `json:"type"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
}

type WebhookEventResponse struct {
	ID              int64             `json:"id"`
	WebhookID       *string           `json:"webhook_id,omitempty"`
	InstanceID      *string           `json:"instance_id,omitempty"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Query           map[string]string `json:"query"`
	Body            string            `json:"body"`
	ResponseStatus  int               `json:"response_status"`
	ResponseSummary string            `json:"response_summary"`
	CreatedAt       time.Time         `json:"created_at"`
}

type ErrorResponse struct {
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type SchedulerResponseStatus string

const (
	SchedulerResponseStatusStarted SchedulerResponseStatus = "started"
	SchedulerResponseStatusStopped SchedulerResponseStatus = "stopped"
)

type SchedulerResponse struct {
	Status  SchedulerResponseStatus `json:"status"`
	Message string                  `json:"message"`
}

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type ComponentStatus string

const (
	ComponentConnected    ComponentStatus = "connected"
	ComponentDisconnected ComponentStatus = "disconnected"
	ComponentRunning      ComponentStatus = "running"
	ComponentStopped      ComponentStatus = "stopped"
)

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitHalfOpen CircuitBreakerState = "half-open"
	CircuitOpen     CircuitBreakerState = "open"
)

type HealthResponse struct {
	Status               HealthStatus         `json:"status"`
	Timestamp            time.Time            `json:"timestamp"`
	SchedulerStatus      *ComponentStatus     `json:"scheduler_status,omitempty"`
	DatabaseStatus       *ComponentStatus     `json:"database_status,omitempty"`
	RedisStatus          *ComponentStatus     `json:"redis_status,omitempty"`
	CircuitBreakerStatus *string              `json:"circuit_breaker_status,omitempty"`
	CircuitBreakerState  *CircuitBreakerState `json:"circuit_breaker_state,omitempty"`
	Observers            int                  `json:"observers"`
	MediaQueueDepth      int                  `json:"media_queue_depth"`
}
