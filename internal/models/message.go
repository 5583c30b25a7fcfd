package models

import "time"

// ArchivedMessage is a chat message copied from a push event.
type ArchivedMessage struct {
	ID         int64      `db:"id" json:"id"`
	MessageID  string     `db:"message_id" json:"message_id"`
	ChatID     string     `db:"chat_id" json:"chat_id"`
	SenderID   string     `db:"sender_id" json:"sender_id"`
	Type       string     `db:"message_type" json:"type"`
	Body       string     `db:"body" json:"body"`
	Summary    string     `db:"summary" json:"summary"`
	CreatedAt  *time.Time `db:"created_at" json:"created_at,omitempty"`
	ArchivedAt time.Time  `db:"archived_at" json:"archived_at"`
}
