package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/identity"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) Append(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error) {
	args := m.Called(ctx, roomID, msg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) ReadRange(ctx context.Context, roomID int64, after *int64) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID, after)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) ReadAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) Trim(ctx context.Context, roomID int64, upto int64) (int64, error) {
	args := m.Called(ctx, roomID, upto)
	return args.Get(0).(int64), args.Error(1)
}

type CheckpointStoreMock struct {
	mock.Mock
}

func (m *CheckpointStoreMock) Get(ctx context.Context, roomID int64) (*models.Checkpoint, error) {
	args := m.Called(ctx, roomID)
	var cp *models.Checkpoint
	if val := args.Get(0); val != nil {
		cp = val.(*models.Checkpoint)
	}
	return cp, args.Error(1)
}

func (m *CheckpointStoreMock) Save(ctx context.Context, roomID int64, msg models.ChatMessage) error {
	args := m.Called(ctx, roomID, msg)
	return args.Error(0)
}

type DurableMessageRepositoryMock struct {
	mock.Mock
}

func (m *DurableMessageRepositoryMock) SaveAll(ctx context.Context, msgs []models.ChatMessage) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *DurableMessageRepositoryMock) FindAll(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *DurableMessageRepositoryMock) FindAllAfter(ctx context.Context, roomID int64, position int64) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID, position)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *DurableMessageRepositoryMock) IndexOf(ctx context.Context, roomID int64, msg models.ChatMessage) (int64, error) {
	args := m.Called(ctx, roomID, msg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *DurableMessageRepositoryMock) MaxPosition(ctx context.Context, roomID int64) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	args := m.Called(ctx)
	var rooms []models.ChatRoom
	if val := args.Get(0); val != nil {
		rooms = val.([]models.ChatRoom)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Error(1)
}

type SessionRegistryMock struct {
	mock.Mock
}

func (m *SessionRegistryMock) Register(ctx context.Context, roomID int64, p models.Participant) error {
	args := m.Called(ctx, roomID, p)
	return args.Error(0)
}

func (m *SessionRegistryMock) Deregister(ctx context.Context, roomID int64, connID string) error {
	args := m.Called(ctx, roomID, connID)
	return args.Error(0)
}

func (m *SessionRegistryMock) Participants(ctx context.Context, roomID int64) ([]models.Participant, error) {
	args := m.Called(ctx, roomID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *SessionRegistryMock) PurgeInstance(ctx context.Context, instance string) (int, error) {
	args := m.Called(ctx, instance)
	return args.Int(0), args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(token string) (identity.Claims, error) {
	args := m.Called(token)
	var claims identity.Claims
	if val := args.Get(0); val != nil {
		claims = val.(identity.Claims)
	}
	return claims, args.Error(1)
}

var (
	_ repositories.ChatMessageStore         = (*MessageStoreMock)(nil)
	_ repositories.CheckpointStore          = (*CheckpointStoreMock)(nil)
	_ repositories.DurableMessageRepository = (*DurableMessageRepositoryMock)(nil)
	_ repositories.RoomRepository           = (*RoomRepositoryMock)(nil)
	_ repositories.SessionRegistry          = (*SessionRegistryMock)(nil)
	_ identity.Verifier                     = (*VerifierMock)(nil)
)
