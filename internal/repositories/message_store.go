package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/roomkey"
)

// ChatMessageStore is the room-partitioned fast store of recent messages.
type ChatMessageStore interface {
	// Append stores msg and returns the position assigned to it.
	Append(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error)
	// ReadRange returns messages with position > *after in position order.
	// A nil after returns the whole room.
	ReadRange(ctx context.Context, roomID int64, after *int64) ([]models.ChatMessage, error)
	ReadAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	// Trim evicts messages with position <= upto.
	Trim(ctx context.Context, roomID int64, upto int64) (int64, error)
}

// SequenceFloor reports the highest position already used for a room
// outside the fast store.
type SequenceFloor interface {
	MaxPosition(ctx context.Context, roomID int64) (int64, error)
}

// appendScript assigns the next position and inserts the message in one
// atomic step so a reader never observes position n+1 before n. Members are
// prefixed with their position to keep identical payloads distinct.
//
// A missing sequence key is seeded from ARGV[2], or from the highest score
// still in the room if that is larger. Without ARGV[2] the script returns -1
// and writes nothing.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  if ARGV[2] == nil or ARGV[2] == '' then
    return -1
  end
  local floor = tonumber(ARGV[2])
  local top = redis.call('ZREVRANGE', KEYS[2], 0, 0, 'WITHSCORES')
  if top[2] and tonumber(top[2]) > floor then
    floor = tonumber(top[2])
  end
  redis.call('SET', KEYS[1], floor)
end
local pos = redis.call('INCR', KEYS[1])
redis.call('ZADD', KEYS[2], pos, pos .. ':' .. ARGV[1])
return pos
`)

const sequenceMissing = -1

// RedisMessageStore keeps each room in a sorted set scored by position.
type RedisMessageStore struct {
	client redis.UniversalClient
	keys   roomkey.Codec
	floor  SequenceFloor
}

// StoreOption configures a RedisMessageStore.
type StoreOption func(*RedisMessageStore)

// WithSequenceFloor makes the store resume numbering above floor when a
// room's sequence key is missing, for example after Redis lost its data.
func WithSequenceFloor(floor SequenceFloor) StoreOption {
	return func(s *RedisMessageStore) { s.floor = floor }
}

// NewRedisMessageStore constructs RedisMessageStore.
func NewRedisMessageStore(client redis.UniversalClient, keys roomkey.Codec, opts ...StoreOption) *RedisMessageStore {
	s := &RedisMessageStore{client: client, keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisMessageStore) Append(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error) {
	msg.ChatRoomID = roomID
	msg.Position = 0
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	keys := []string{s.keys.Sequence(roomID), s.keys.Messages(roomID)}

	pos, err := appendScript.Run(ctx, s.client, keys, payload, "").Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: append room %d: %w", ErrStoreUnavailable, roomID, err)
	}
	if pos != sequenceMissing {
		return pos, nil
	}

	var seed int64
	if s.floor != nil {
		if seed, err = s.floor.MaxPosition(ctx, roomID); err != nil {
			return 0, fmt.Errorf("%w: seed sequence of room %d: %w", ErrStoreUnavailable, roomID, err)
		}
	}
	pos, err = appendScript.Run(ctx, s.client, keys, payload, strconv.FormatInt(seed, 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: append room %d: %w", ErrStoreUnavailable, roomID, err)
	}
	if seed > 0 {
		l := logging.Ctx(ctx)
		l.Warn().Int64(logging.FieldRoomID, roomID).Int64("floor", seed).Msg("room sequence was missing, resumed above durable history")
	}
	return pos, nil
}

func (s *RedisMessageStore) ReadRange(ctx context.Context, roomID int64, after *int64) ([]models.ChatMessage, error) {
	lower := "-inf"
	if after != nil {
		lower = "(" + strconv.FormatInt(*after, 10)
	}

	members, err := s.client.ZRangeByScore(ctx, s.keys.Messages(roomID), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read room %d: %w", ErrStoreUnavailable, roomID, err)
	}

	msgs := make([]models.ChatMessage, 0, len(members))
	for _, member := range members {
		msg, err := decodeMember(member)
		if err != nil {
			return nil, fmt.Errorf("room %d: %w", roomID, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *RedisMessageStore) ReadAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	return s.ReadRange(ctx, roomID, nil)
}

func (s *RedisMessageStore) Trim(ctx context.Context, roomID int64, upto int64) (int64, error) {
	if upto <= 0 {
		return 0, nil
	}
	n, err := s.client.ZRemRangeByScore(ctx, s.keys.Messages(roomID), "-inf", strconv.FormatInt(upto, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: trim room %d: %w", ErrStoreUnavailable, roomID, err)
	}
	return n, nil
}

func decodeMember(member string) (models.ChatMessage, error) {
	prefix, payload, ok := strings.Cut(member, ":")
	if !ok {
		return models.ChatMessage{}, fmt.Errorf("malformed stored message %q", member)
	}
	pos, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("malformed stored position %q: %w", prefix, err)
	}

	var msg models.ChatMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("decode stored message %d: %w", pos, err)
	}
	msg.Position = pos
	return msg, nil
}
