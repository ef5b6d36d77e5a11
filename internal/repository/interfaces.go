package repository

import (
	"context"
	"errors"
	"time"

	"github.com/popeskul/wa-relay/internal/models"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_repository.go -package=mocks

var (
	ErrNotFound       = errors.New("record not found")
	ErrMediaFinalized = errors.New("media descriptor already finalized")
)

// Repository interface defines all repository operations.
type Repository interface {
	// Ping checks database connectivity
	Ping() error

	Conversation() ConversationRepository
	Message() MessageRepository
	WebhookEvent() WebhookEventRepository
}

// ConversationRepository interface defines conversation operations.
type ConversationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetByPhone(ctx context.Context, phone string) (*models.Conversation, error)
	// Create inserts a conversation for phone, or returns the existing one
	// when a concurrent request created it first.
	Create(ctx context.Context, phone string, displayName *string, createdByUserID *int64) (*models.Conversation, error)
	UpdateLastAt(ctx context.Context, id int64, at time.Time) error
}

// MessageRepository interface defines message operations.
type MessageRepository interface {
	// Create persists msg and fills its ID and CreatedAt. It reports false
	// without error when another row already holds msg.ProviderMessageID.
	Create(ctx context.Context, msg *models.Message) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error)
	UpdateMedia(ctx context.Context, id int64, media *models.MediaDescriptor) error
	ListByConversation(ctx context.Context, conversationID int64, offset, limit int) ([]*models.Message, error)
	CountByConversation(ctx context.Context, conversationID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
	ListStaleMedia(ctx context.Context, olderThan time.Time, limit int) ([]*models.Message, error)
}

// WebhookEventRepository interface defines audit log operations.
type WebhookEventRepository interface {
	Append(ctx context.Context, event *models.WebhookEvent) error
	ListRecent(ctx context.Context, limit int, instanceID, webhookID string) ([]*models.WebhookEvent, error)
}
