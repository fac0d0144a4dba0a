package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/models"
	"chat-relay/internal/roomkey"
)

// CheckpointStore records, per room, the last message already durably stored.
type CheckpointStore interface {
	// Get returns nil without error when the room has never been flushed.
	Get(ctx context.Context, roomID int64) (*models.Checkpoint, error)
	// Save overwrites the room's checkpoint with msg.
	Save(ctx context.Context, roomID int64, msg models.ChatMessage) error
}

// RedisCheckpointStore keeps one JSON value per room.
type RedisCheckpointStore struct {
	client redis.UniversalClient
	keys   roomkey.Codec
	now    func() time.Time
}

// NewRedisCheckpointStore constructs RedisCheckpointStore.
func NewRedisCheckpointStore(client redis.UniversalClient, keys roomkey.Codec) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, keys: keys, now: time.Now}
}

func (s *RedisCheckpointStore) Get(ctx context.Context, roomID int64) (*models.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.keys.LastSaved(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get checkpoint room %d: %w", ErrStoreUnavailable, roomID, err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint room %d: %w", roomID, err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, roomID int64, msg models.ChatMessage) error {
	data, err := json.Marshal(models.Checkpoint{ChatRoomID: roomID, LastPersisted: msg, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.LastSaved(roomID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: save checkpoint room %d: %w", ErrStoreUnavailable, roomID, err)
	}
	return nil
}
