package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/bridge"
	"chat-relay/internal/models"
)

type BridgeMock struct {
	mock.Mock
}

func (m *BridgeMock) Publish(ctx context.Context, event models.ChatEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *BridgeMock) Subscribe(ctx context.Context, handler bridge.Handler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *BridgeMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ bridge.Bridge = (*BridgeMock)(nil)
