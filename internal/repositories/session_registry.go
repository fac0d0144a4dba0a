package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/roomkey"
)

// SessionRegistry tracks which users are attached to which room across all
// instances.
type SessionRegistry interface {
	Register(ctx context.Context, roomID int64, p models.Participant) error
	Deregister(ctx context.Context, roomID int64, connID string) error
	Participants(ctx context.Context, roomID int64) ([]models.Participant, error)
	// PurgeInstance removes entries left behind by an instance that stopped
	// without deregistering its sessions.
	PurgeInstance(ctx context.Context, instance string) (int, error)
}

// RedisSessionRegistry stores one hash per room: conn id -> participant.
type RedisSessionRegistry struct {
	client redis.UniversalClient
	keys   roomkey.Codec
}

// NewRedisSessionRegistry constructs RedisSessionRegistry.
func NewRedisSessionRegistry(client redis.UniversalClient, keys roomkey.Codec) *RedisSessionRegistry {
	return &RedisSessionRegistry{client: client, keys: keys}
}

func (r *RedisSessionRegistry) Register(ctx context.Context, roomID int64, p models.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	if err := r.client.HSet(ctx, r.keys.Sessions(roomID), p.ConnID, data).Err(); err != nil {
		return fmt.Errorf("%w: register session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisSessionRegistry) Deregister(ctx context.Context, roomID int64, connID string) error {
	if err := r.client.HDel(ctx, r.keys.Sessions(roomID), connID).Err(); err != nil {
		return fmt.Errorf("%w: deregister session: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisSessionRegistry) Participants(ctx context.Context, roomID int64) ([]models.Participant, error) {
	values, err := r.client.HVals(ctx, r.keys.Sessions(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrStoreUnavailable, err)
	}

	out := make([]models.Participant, 0, len(values))
	for _, v := range values {
		var p models.Participant
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out, nil
}

func (r *RedisSessionRegistry) PurgeInstance(ctx context.Context, instance string) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.keys.Pattern(roomkey.KindSessions), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, err := r.keys.ParseRoomID(key, roomkey.KindSessions); err != nil {
			l := logging.Ctx(ctx)
			l.Warn().Err(err).Str("key", key).Msg("skipping session key")
			continue
		}

		entries, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: read sessions: %w", ErrStoreUnavailable, err)
		}
		for connID, v := range entries {
			var p models.Participant
			if err := json.Unmarshal([]byte(v), &p); err != nil || p.Instance != instance {
				continue
			}
			if err := r.client.HDel(ctx, key, connID).Err(); err != nil {
				return removed, fmt.Errorf("%w: purge session: %w", ErrStoreUnavailable, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return removed, fmt.Errorf("%w: scan sessions: %w", ErrStoreUnavailable, err)
	}
	return removed, nil
}
