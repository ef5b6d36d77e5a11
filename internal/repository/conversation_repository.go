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

const conversationColumns = `id, phone, display_name, last_at, archived, created_by_user_id, created_at, updated_at`

type conversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	var c models.Conversation
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &c, nil
}

// GetByPhone retrieves the conversation for a phone number.
func (r *conversationRepository) GetByPhone(ctx context.Context, phone string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE phone = $1`

	var c models.Conversation
	if err := r.db.GetContext(ctx, &c, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by phone: %w", err)
	}

	return &c, nil
}

// Create creates a conversation. A concurrent insert for the same phone wins
// and its row is returned; the display name is only filled in when missing.
func (r *conversationRepository) Create(ctx context.Context, phone string, displayName *string, createdByUserID *int64) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (phone, display_name, last_at, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $3, $3)
		ON CONFLICT (phone) DO UPDATE
		SET display_name = COALESCE(conversations.display_name, EXCLUDED.display_name)
		RETURNING ` + conversationColumns

	var name sql.NullString
	if displayName != nil && *displayName != "" {
		name = sql.NullString{String: *displayName, Valid: true}
	}

	var createdBy sql.NullInt64
	if createdByUserID != nil {
		createdBy = sql.NullInt64{Int64: *createdByUserID, Valid: true}
	}

	var c models.Conversation
	if err := r.db.GetContext(ctx, &c, query, phone, name, time.Now(), createdBy); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return &c, nil
}

// UpdateLastAt moves last_at forward; it never moves it back.
func (r *conversationRepository) UpdateLastAt(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_at = GREATEST(last_at, $2),
		    updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to update conversation last_at: %w", err)
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
