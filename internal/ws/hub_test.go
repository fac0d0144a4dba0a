package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/config"
	"chat-relay/internal/identity"
	"chat-relay/internal/models"
)

func testClient(roomID int64, buffer int) *Client {
	info := ConnInfo{ConnID: newConnID(), UserID: 1, DisplayName: "alice", RoomID: roomID}
	return newClient(nil, info, identity.Claims{ID: 1, DisplayName: "alice"}, config.WebSocketConfig{SendBuffer: buffer})
}

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()
	c := testClient(1, 4)

	hub.Add(c)
	assert.Equal(t, 1, hub.RoomSize(1))

	assert.True(t, hub.Remove(c, websocket.CloseNormalClosure, ""))
	assert.Equal(t, 0, hub.RoomSize(1))
	assert.Empty(t, hub.rooms)

	assert.False(t, hub.Remove(c, websocket.CloseNormalClosure, ""))
}

func TestHubDeliverOnlyToRoom(t *testing.T) {
	hub := NewHub()
	inRoom := testClient(1, 4)
	other := testClient(2, 4)
	hub.Add(inRoom)
	hub.Add(other)

	hub.Deliver(context.Background(), models.ChatEvent{Type: models.MessageTalk, ChatRoomID: 1, Body: "hi"})

	require.Len(t, inRoom.send, 1)
	assert.Len(t, other.send, 0)

	var got models.ChatEvent
	require.NoError(t, json.Unmarshal(<-inRoom.send, &got))
	assert.Equal(t, "hi", got.Body)
	assert.Equal(t, int64(1), got.ChatRoomID)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow := testClient(1, 1)
	hub.Add(slow)

	event := models.ChatEvent{Type: models.MessageTalk, ChatRoomID: 1, Body: "x"}
	hub.Deliver(context.Background(), event)
	hub.Deliver(context.Background(), event)

	assert.Equal(t, 0, hub.RoomSize(1))
	assert.Equal(t, websocket.CloseTryAgainLater, slow.closeCode)

	// queued frames stay readable, then the channel reports closed
	_, ok := <-slow.send
	assert.True(t, ok)
	_, ok = <-slow.send
	assert.False(t, ok)
}

func TestClientEnqueueAfterClose(t *testing.T) {
	c := testClient(1, 1)
	c.closeWith(websocket.CloseNormalClosure, "")
	c.closeWith(websocket.ClosePolicyViolation, "ignored")

	assert.True(t, c.enqueue([]byte("late")))
	assert.Equal(t, websocket.CloseNormalClosure, c.closeCode)
}

func TestHubShutdownClosesEveryClient(t *testing.T) {
	hub := NewHub()
	a, b := testClient(1, 1), testClient(2, 1)
	hub.Add(a)
	hub.Add(b)

	hub.Shutdown()

	for _, c := range []*Client{a, b} {
		_, ok := <-c.send
		assert.False(t, ok)
		assert.Equal(t, websocket.CloseGoingAway, c.closeCode)
	}
	assert.Equal(t, 0, hub.RoomSize(1))
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(config.WebSocketConfig{})
	assert.Positive(t, cfg.PingInterval)
	assert.Less(t, cfg.PingInterval, cfg.PongWait)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.SendBuffer)
}
