// Package models defines data structures used throughout the application.
package models

import (
	"database/sql"
	"time"
)

// Conversation is the thread of messages exchanged with one phone number.
type Conversation struct {
	ID              int64          `db:"id"`
	Phone           string         `db:"phone"`
	DisplayName     sql.NullString `db:"display_name"`
	LastAt          time.Time      `db:"last_at"`
	Archived        bool           `db:"archived"`
	CreatedByUserID sql.NullInt64  `db:"created_by_user_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
