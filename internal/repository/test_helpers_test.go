package repository_test

import (
	"database/sql"
	"fmt"
	"time"
)

func insertTestConversation(db *sql.DB, phone string) (int64, error) {
	var id int64
	query := `
		INSERT INTO conversations (phone, last_at, created_at, updated_at)
		VALUES ($1, $2, $2, $2)
		RETURNING id
	`

	err := db.QueryRow(query, phone, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test conversation: %w", err)
	}

	return id, nil
}

func insertTestMessage(db *sql.DB, conversationID int64, direction, body string, providerMessageID *string, createdAt time.Time) (int64, error) {
	var id int64
	query := `
		INSERT INTO messages (conversation_id, direction, body, provider_message_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	status := "received"
	if direction == "outbound" {
		status = "sent"
	}

	err := db.QueryRow(query, conversationID, direction, body, providerMessageID, status, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test message: %w", err)
	}

	return id, nil
}

func insertBulkTestMessages(db *sql.DB, conversationID int64, count int, baseTime time.Time, step time.Duration) error {
	for i := 0; i < count; i++ {
		body := fmt.Sprintf("message %d", i)
		if _, err := insertTestMessage(db, conversationID, "inbound", body, nil, baseTime.Add(time.Duration(i)*step)); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}
	return nil
}

func ptr(s string) *string {
	return &s
}
