package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/skrumble/skrumble-go/internal/models"
)

var ErrInvalidMessage = errors.New("archived message needs message and chat ids")

// MessageRepository archives chat messages seen on the push stream.
type MessageRepository interface {
	// SaveMessage stores msg unless a row with the same message id exists.
	// It reports whether a row was written.
	SaveMessage(ctx context.Context, msg models.ArchivedMessage) (bool, error)
	ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ArchivedMessage, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SaveMessage inserts one archived message.
func (r *MessageRepo) SaveMessage(ctx context.Context, msg models.ArchivedMessage) (bool, error) {
	if msg.MessageID == "" || msg.ChatID == "" {
		return false, ErrInvalidMessage
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO archived_messages (message_id, chat_id, sender_id, message_type, body, summary, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (message_id) DO NOTHING`,
		msg.MessageID, msg.ChatID, msg.SenderID, msg.Type, msg.Body, msg.Summary, msg.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListChatMessages returns the newest archived messages of a chat first.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID string, limit int) ([]models.ArchivedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id, message_id, chat_id, sender_id, message_type, body, summary, created_at, archived_at
        FROM archived_messages
        WHERE chat_id=$1
        ORDER BY created_at DESC NULLS LAST, id DESC
        LIMIT $2`
	msgs := []models.ArchivedMessage{}
	err := r.db.SelectContext(ctx, &msgs, query, chatID, limit)
	return msgs, err
}
