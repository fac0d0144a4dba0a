package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

// CheckpointRepo is a postgres-backed CheckpointStore. Saves never move a
// checkpoint backwards.
type CheckpointRepo struct {
	db *sqlx.DB
}

// NewCheckpointRepo constructs CheckpointRepo.
func NewCheckpointRepo(db *sqlx.DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	ChatRoomID  int64     `db:"chat_room_id"`
	LastMessage []byte    `db:"last_message"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *CheckpointRepo) Get(ctx context.Context, roomID int64) (*models.Checkpoint, error) {
	var row checkpointRow
	err := r.db.GetContext(ctx, &row, `SELECT chat_room_id, last_message, updated_at FROM chat_checkpoints WHERE chat_room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint room %d: %w", roomID, err)
	}

	cp := models.Checkpoint{ChatRoomID: row.ChatRoomID, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal(row.LastMessage, &cp.LastPersisted); err != nil {
		return nil, fmt.Errorf("decode checkpoint room %d: %w", roomID, err)
	}
	return &cp, nil
}

func (r *CheckpointRepo) Save(ctx context.Context, roomID int64, msg models.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO chat_checkpoints (chat_room_id, last_position, last_message, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (chat_room_id) DO UPDATE
        SET last_position = EXCLUDED.last_position, last_message = EXCLUDED.last_message, updated_at = EXCLUDED.updated_at
        WHERE chat_checkpoints.last_position <= EXCLUDED.last_position`, roomID, msg.Position, payload)
	if err != nil {
		return fmt.Errorf("save checkpoint room %d: %w", roomID, err)
	}
	return nil
}
