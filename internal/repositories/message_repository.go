package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

// DurableMessageRepository is the long-term chat history.
type DurableMessageRepository interface {
	// SaveAll writes the batch in one transaction. Rows already present for
	// the same (room, position) are left untouched.
	SaveAll(ctx context.Context, msgs []models.ChatMessage) error
	FindAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	FindAllAfter(ctx context.Context, roomID int64, position int64) ([]models.ChatMessage, error)
	// IndexOf returns the position under which msg is stored.
	IndexOf(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error)
	// MaxPosition returns the highest stored position of the room, 0 when empty.
	MaxPosition(ctx context.Context, roomID int64) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const insertMessage = `INSERT INTO chat_messages (chat_room_id, position, type, sender_user_id, sender_display_name, body, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (chat_room_id, position) DO NOTHING`

const selectMessages = `SELECT chat_room_id, position, type, sender_user_id, sender_display_name, body, sent_at FROM chat_messages`

func (r *MessageRepo) SaveAll(ctx context.Context, msgs []models.ChatMessage) (err error) {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrDurableWrite, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PreparexContext(ctx, insertMessage)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrDurableWrite, err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err = stmt.ExecContext(ctx, m.ChatRoomID, m.Position, string(m.Type), m.SenderUserID, m.SenderDisplayName, m.Body, m.SentAt); err != nil {
			return fmt.Errorf("%w: room %d position %d: %w", ErrDurableWrite, m.ChatRoomID, m.Position, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrDurableWrite, err)
	}
	return nil
}

func (r *MessageRepo) FindAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := r.db.SelectContext(ctx, &msgs, selectMessages+` WHERE chat_room_id=$1 ORDER BY position ASC`, roomID)
	return msgs, err
}

func (r *MessageRepo) FindAllAfter(ctx context.Context, roomID int64, position int64) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := r.db.SelectContext(ctx, &msgs, selectMessages+` WHERE chat_room_id=$1 AND position > $2 ORDER BY position ASC`, roomID, position)
	return msgs, err
}

const selectMaxPosition = `SELECT COALESCE(MAX(position), 0) FROM chat_messages WHERE chat_room_id=$1`

func (r *MessageRepo) MaxPosition(ctx context.Context, roomID int64) (int64, error) {
	var position int64
	if err := r.db.GetContext(ctx, &position, selectMaxPosition, roomID); err != nil {
		return 0, fmt.Errorf("max position of room %d: %w", roomID, err)
	}
	return position, nil
}

func (r *MessageRepo) IndexOf(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error) {
	var position int64
	var err error
	if msg.Position > 0 {
		err = r.db.GetContext(ctx, &position, `SELECT position FROM chat_messages WHERE chat_room_id=$1 AND position=$2`, roomID, msg.Position)
	} else {
		err = r.db.GetContext(ctx, &position, `SELECT position FROM chat_messages
            WHERE chat_room_id=$1 AND sender_user_id=$2 AND sent_at=$3 AND body=$4
            ORDER BY position ASC LIMIT 1`, roomID, msg.SenderUserID, msg.SentAt, msg.Body)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMessageNotFound
	}
	return position, err
}
