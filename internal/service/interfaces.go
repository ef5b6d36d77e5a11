package service

import (
	"context"
	"io"
	"iter"
	"net/http"
	"net/url"

	"github.com/popeskul/wa-relay/internal/media"
	"github.com/popeskul/wa-relay/internal/models"
	"github.com/popeskul/wa-relay/internal/provider/whatsapp"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_service.go -package=mocks

// Provider is the messaging provider as seen by the services.
// *whatsapp.Adapter satisfies it.
type Provider interface {
	IsChallenge(query url.Values) bool
	ChallengeConfigured() bool
	VerifyChallenge(query url.Values) bool
	VerifySignature(header http.Header, rawBody []byte) bool
	Normalize(raw []byte) (iter.Seq[whatsapp.IncomingEvent], error)
	DispatchConfigured() bool
	Dispatch(ctx context.Context, req whatsapp.SendRequest) (*whatsapp.DispatchResult, error)
	FetchMediaMetadata(ctx context.Context, mediaID string) (*whatsapp.MediaMetadata, error)
	DownloadMedia(ctx context.Context, url string, maxBytes int64) (*whatsapp.Download, error)
}

// MediaQueue accepts acquisition jobs. *media.Pipeline satisfies it.
type MediaQueue interface {
	Enqueue(job media.Job) error
	QueueDepth() int
}

// Broadcaster fans events out to realtime observers. *realtime.Hub satisfies it.
type Broadcaster interface {
	Publish(event string, data any) int
	Count() int
}

// WebhookService handles provider webhook calls.
type WebhookService interface {
	// VerifyChallenge answers the GET handshake or a bare liveness check.
	VerifyChallenge(ctx context.Context, req *WebhookRequest) *WebhookResult
	// Ingest handles a POST delivery.
	Ingest(ctx context.Context, req *WebhookRequest) *WebhookResult
	// Reject records a delivery refused before ingestion and returns res.
	Reject(ctx context.Context, req *WebhookRequest, res *WebhookResult) *WebhookResult
	ListEvents(ctx context.Context, limit int, instanceID, webhookID string) ([]models.WebhookEventResponse, error)
}

// MessageService defines message business logic.
type MessageService interface {
	Send(ctx context.Context, req *models.SendMessageRequest) (*models.MessageResponse, error)
	List(ctx context.Context, conversationID int64, page, limit int) (*models.MessageListResponse, error)
	Delete(ctx context.Context, id int64) error
	GetCircuitBreakerStatus() (state models.CircuitBreakerState, requests uint32, failures uint32)
}

// MediaService serves, accepts and re-queues stored media.
type MediaService interface {
	Open(r *http.Request) (*MediaFile, error)
	Upload(ctx context.Context, filename string, r io.Reader) (*models.UploadResponse, error)
	RequeueStale(ctx context.Context) (int, error)
}

// SchedulerService defines scheduler operations.
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// HealthService defines health check operations.
type HealthService interface {
	GetHealth() *models.HealthResponse
}
