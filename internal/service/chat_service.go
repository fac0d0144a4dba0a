// Package service builds, records and persists chat messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"chat-relay/internal/bridge"
	"chat-relay/internal/identity"
	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidRoom        = errors.New("invalid chat room id")
	ErrSweepInProgress    = errors.New("flush sweep already in progress")
)

// Deps are the collaborators of ChatService.
type Deps struct {
	Store       repositories.ChatMessageStore
	Durable     repositories.DurableMessageRepository
	Checkpoints repositories.CheckpointStore
	Rooms       repositories.RoomRepository
	Bridge      bridge.Bridge
}

// ChatService owns the lifecycle of chat messages: building them, appending
// talk messages to the fast store, relaying them and flushing them to the
// durable store.
type ChatService struct {
	store       repositories.ChatMessageStore
	durable     repositories.DurableMessageRepository
	checkpoints repositories.CheckpointStore
	rooms       repositories.RoomRepository
	bridge      bridge.Bridge

	// retain is how many persisted positions stay in the fast store after a
	// flush. Negative disables eviction.
	retain int64
	now    func() time.Time

	sweepMu sync.Mutex
	history singleflight.Group
}

// Option configures a ChatService.
type Option func(*ChatService)

// WithRetain sets how many persisted positions are kept in the fast store.
func WithRetain(n int64) Option {
	return func(s *ChatService) { s.retain = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ChatService) { s.now = now }
}

// NewChatService constructs a ChatService.
func NewChatService(deps Deps, opts ...Option) *ChatService {
	s := &ChatService{
		store:       deps.Store,
		durable:     deps.Durable,
		checkpoints: deps.Checkpoints,
		rooms:       deps.Rooms,
		bridge:      deps.Bridge,
		retain:      -1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildEnterOrLeave builds a presence notice for user. It is not appended to
// the fast store; the caller records it with RecordPresence once the session
// is routed.
func (s *ChatService) BuildEnterOrLeave(msgType models.MessageType, roomID int64, user identity.Claims) (models.ChatMessage, error) {
	var body string
	switch msgType {
	case models.MessageEnter:
		body = fmt.Sprintf("[notice] %s entered the room.", user.DisplayName)
	case models.MessageLeave:
		body = fmt.Sprintf("[notice] %s left the room.", user.DisplayName)
	default:
		return models.ChatMessage{}, fmt.Errorf("%w: %q is not a presence type", ErrInvalidMessageType, msgType)
	}
	if roomID <= 0 {
		return models.ChatMessage{}, fmt.Errorf("%w: %d", ErrInvalidRoom, roomID)
	}
	// Expiry does not matter here; a leave notice is built for expired sessions too.
	if err := user.Validate(time.Time{}); err != nil {
		return models.ChatMessage{}, err
	}

	return models.ChatMessage{
		Type:              msgType,
		ChatRoomID:        roomID,
		SenderUserID:      user.ID,
		SenderDisplayName: user.DisplayName,
		Body:              body,
		SentAt:            s.now().UTC(),
	}, nil
}

// RecordTalkMessage stamps req with the sender from claims and the current
// time, then appends it to the fast store. Sender fields of the request are
// never trusted.
func (s *ChatService) RecordTalkMessage(ctx context.Context, req models.ChatRequest, claims identity.Claims) (models.ChatMessage, error) {
	now := s.now()
	if err := claims.Validate(now); err != nil {
		return models.ChatMessage{}, err
	}
	if req.ChatRoomID <= 0 {
		return models.ChatMessage{}, fmt.Errorf("%w: %d", ErrInvalidRoom, req.ChatRoomID)
	}

	msg := models.ChatMessage{
		Type:              models.MessageTalk,
		ChatRoomID:        req.ChatRoomID,
		SenderUserID:      claims.ID,
		SenderDisplayName: claims.DisplayName,
		Body:              req.Body,
		SentAt:            now.UTC(),
	}

	pos, err := s.store.Append(ctx, req.ChatRoomID, msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("record talk message: %w", err)
	}
	msg.Position = pos
	return msg, nil
}

// RecordPresence appends an ENTER or LEAVE notice built by BuildEnterOrLeave
// to the fast store and returns it with its position.
func (s *ChatService) RecordPresence(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	if msg.Type != models.MessageEnter && msg.Type != models.MessageLeave {
		return models.ChatMessage{}, fmt.Errorf("%w: %q is not a presence type", ErrInvalidMessageType, msg.Type)
	}
	if msg.ChatRoomID <= 0 {
		return models.ChatMessage{}, fmt.Errorf("%w: %d", ErrInvalidRoom, msg.ChatRoomID)
	}

	pos, err := s.store.Append(ctx, msg.ChatRoomID, msg)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("record %s notice: %w", msg.Type, err)
	}
	msg.Position = pos
	return msg, nil
}

// Publish relays msg to every instance through the bridge.
func (s *ChatService) Publish(ctx context.Context, msg models.ChatMessage) error {
	if err := s.bridge.Publish(ctx, models.EventFromMessage(msg)); err != nil {
		observability.IncBridgePublishError()
		l := logging.Ctx(ctx)
		l.Error().Err(err).Int64(logging.FieldRoomID, msg.ChatRoomID).Str("type", string(msg.Type)).Msg("bridge publish failed")
		return fmt.Errorf("publish %s to room %d: %w", msg.Type, msg.ChatRoomID, err)
	}
	return nil
}

// History returns the full history of a room. Messages evicted from the fast
// store are read from the durable store. Concurrent calls for the same room
// share one read; callers must not modify the returned slice. The shared read
// is not cancelled when the caller that started it goes away.
func (s *ChatService) History(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	v, err, _ := s.history.Do(strconv.FormatInt(roomID, 10), func() (interface{}, error) {
		return s.loadHistory(context.WithoutCancel(ctx), roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.ChatMessage), nil
}

func (s *ChatService) loadHistory(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	recent, err := s.store.ReadAll(ctx, roomID)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Int64(logging.FieldRoomID, roomID).Msg("fast store unavailable, reading durable history")
		recent = nil
	}
	if len(recent) > 0 && recent[0].Position <= 1 {
		return recent, nil
	}

	older, err := s.durable.FindAll(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("history of room %d: %w", roomID, err)
	}
	if len(recent) == 0 {
		return older, nil
	}

	first := recent[0].Position
	out := make([]models.ChatMessage, 0, len(older)+len(recent))
	for _, msg := range older {
		if msg.Position < first {
			out = append(out, msg)
		}
	}
	return append(out, recent...), nil
}
