package models

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// WebhookEvent is one append-only audit record of an inbound webhook call.
type WebhookEvent struct {
	ID              int64          `db:"id"`
	WebhookID       sql.NullString `db:"webhook_id"`
	InstanceID      sql.NullString `db:"instance_id"`
	Method          string         `db:"method"`
	Headers         types.JSONText `db:"headers"`
	Query           types.JSONText `db:"query"`
	Body            string         `db:"body"`
	ResponseStatus  int            `db:"response_status"`
	ResponseSummary string         `db:"response_summary"`
	CreatedAt       time.Time      `db:"created_at"`
}
