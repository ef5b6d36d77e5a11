package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/popeskul/wa-relay/internal/models"
)

type webhookEventRepository struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// Append writes one audit record. Records are never updated.
func (r *webhookEventRepository) Append(ctx context.Context, event *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (webhook_id, instance_id, method, headers, query, body,
		                            response_status, response_summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	headers := event.Headers
	if len(headers) == 0 {
		headers = []byte("{}")
	}
	params := event.Query
	if len(params) == 0 {
		params = []byte("{}")
	}

	err := r.db.QueryRowxContext(ctx, query,
		event.WebhookID, event.InstanceID, event.Method, headers, params, event.Body,
		event.ResponseStatus, event.ResponseSummary, event.CreatedAt,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append webhook event: %w", err)
	}

	return nil
}

// ListRecent returns the newest records, optionally filtered by instance or webhook id.
func (r *webhookEventRepository) ListRecent(ctx context.Context, limit int, instanceID, webhookID string) ([]*models.WebhookEvent, error) {
	query := `
		SELECT id, webhook_id, instance_id, method, headers, query, body,
		       response_status, response_summary, created_at
		FROM webhook_events
		WHERE ($1::text = '' OR instance_id = $1::text)
		  AND ($2::text = '' OR webhook_id = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	var events []*models.WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, instanceID, webhookID, limit); err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}

	return events, nil
}
