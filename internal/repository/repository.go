// Package repository implements the postgres storage collaborator.
package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// repositoryImpl is the concrete implementation of Repository interface.
type repositoryImpl struct {
	db           *sqlx.DB
	conversation ConversationRepository
	message      MessageRepository
	webhookEvent WebhookEventRepository
}

// NewRepository creates a new repository instance.
func NewRepository(db *sqlx.DB) Repository {
	return &repositoryImpl{
		db:           db,
		conversation: NewConversationRepository(db),
		message:      NewMessageRepository(db),
		webhookEvent: NewWebhookEventRepository(db),
	}
}

func (r *repositoryImpl) Conversation() ConversationRepository {
	return r.conversation
}

// Message returns the message repository.
func (r *repositoryImpl) Message() MessageRepository {
	return r.message
}

func (r *repositoryImpl) WebhookEvent() WebhookEventRepository {
	return r.webhookEvent
}

// Ping checks if the database connection is healthy.
func (r *repositoryImpl) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}
