package models

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageStatus string

const (
	MessageStatusReceived MessageStatus = "received"
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusFailed   MessageStatus = "failed"
)

// Message represents a message in the database.
type Message struct {
	ID                int64              `db:"id"`
	ConversationID    int64              `db:"conversation_id"`
	Direction         MessageDirection   `db:"direction"`
	Body              sql.NullString     `db:"body"`
	Media             *MediaDescriptor   `db:"media"`
	ProviderMessageID sql.NullString     `db:"provider_message_id"`
	Status            MessageStatus      `db:"status"`
	ReplyToMessageID  sql.NullInt64      `db:"reply_to_message_id"`
	RawPayload        types.NullJSONText `db:"raw_payload"`
	Error             sql.NullString     `db:"error"`
	CreatedAt         time.Time          `db:"created_at"`
}

// HasPendingMedia reports whether the message still needs the media pipeline.
func (m *Message) HasPendingMedia() bool {
	if m.Media == nil || m.Media.Origin != MediaOriginWhatsApp {
		return false
	}
	return m.Media.Status == MediaStatusPending || m.Media.Status == MediaStatusDownloading
}
