package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/popeskul/wa-relay/internal/models"
)

const messageColumns = `id, conversation_id, direction, body, media, provider_message_id, status,
		reply_to_message_id, raw_payload, error, created_at`

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// Create inserts a message. The partial unique index on provider_message_id
// turns a concurrent redelivery into a no-op reported as (false, nil).
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) (bool, error) {
	query := `
		INSERT INTO messages (conversation_id, direction, body, media, provider_message_id, status,
		                      reply_to_message_id, raw_payload, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING id, created_at
	`

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := r.db.QueryRowxContext(ctx, query,
		msg.ConversationID, msg.Direction, msg.Body, msg.Media, msg.ProviderMessageID, msg.Status,
		msg.ReplyToMessageID, msg.RawPayload, msg.Error, createdAt)

	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	return true, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var m models.Message
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &m, nil
}

// GetByProviderMessageID looks up the message that carries the idempotency key.
func (r *messageRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = $1`

	var m models.Message
	if err := r.db.GetContext(ctx, &m, query, providerMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}

	return &m, nil
}

// UpdateMedia replaces the embedded media descriptor unless the stored one is
// already ready or failed.
func (r *messageRepository) UpdateMedia(ctx context.Context, id int64, media *models.MediaDescriptor) error {
	query := `
		UPDATE messages
		SET media = $2,
		    updated_at = $3
		WHERE id = $1
		  AND (media IS NULL OR media ->> 'status' NOT IN ('ready', 'failed'))
	`

	res, err := r.db.ExecContext(ctx, query, id, media, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update message media: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrMediaFinalized
	}

	return nil
}

// ListByConversation retrieves messages with pagination, newest first.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID int64, offset, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	var messages []*models.Message
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return messages, nil
}

func (r *messageRepository) CountByConversation(ctx context.Context, conversationID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`

	if err := r.db.GetContext(ctx, &count, query, conversationID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}

	return count, nil
}

func (r *messageRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListStaleMedia returns messages whose media acquisition has not finished and
// that have not been touched since olderThan.
func (r *messageRepository) ListStaleMedia(ctx context.Context, olderThan time.Time, limit int) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE media IS NOT NULL
		  AND media ->> 'origin' = $1
		  AND media ->> 'status' IN ($2, $3)
		  AND updated_at < $4
		ORDER BY updated_at ASC
		LIMIT $5`

	var messages []*models.Message
	err := r.db.SelectContext(ctx, &messages, query,
		models.MediaOriginWhatsApp, models.MediaStatusPending, models.MediaStatusDownloading, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale media: %w", err)
	}

	return messages, nil
}
