package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/bridge"
	"chat-relay/internal/config"
	"chat-relay/internal/identity"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
	"chat-relay/internal/roomkey"
	"chat-relay/internal/service"
)

type harness struct {
	srv      *httptest.Server
	signer   *identity.JWTVerifier
	store    *repositories.RedisMessageStore
	registry *repositories.RedisSessionRegistry
	hub      *Hub
	handler  *ChatWebSocketHandler
	skew     atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	keys := roomkey.New("test")

	h := &harness{
		store:    repositories.NewRedisMessageStore(rdb, keys),
		registry: repositories.NewRedisSessionRegistry(rdb, keys),
		hub:      NewHub(),
	}

	rooms := new(mocks.RoomRepositoryMock)
	rooms.On("GetRoom", mock.Anything, int64(1)).Return(models.ChatRoom{ID: 1, Name: "lobby"}, nil)
	rooms.On("GetRoom", mock.Anything, int64(99)).Return(nil, repositories.ErrRoomNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	br := bridge.NewLocalBridge()
	require.NoError(t, br.Subscribe(ctx, h.hub.Deliver))

	svc := service.NewChatService(service.Deps{Store: h.store, Rooms: rooms, Bridge: br},
		service.WithClock(func() time.Time { return time.Now().Add(time.Duration(h.skew.Load())) }))

	verifier, err := identity.NewJWTVerifier("test-secret", "")
	require.NoError(t, err)
	h.signer = verifier

	h.handler = NewChatWebSocketHandler(h.hub, svc, rooms, h.registry, verifier, config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     16,
	}, "test-instance")

	r := gin.New()
	r.GET("/ws/rooms/:room_id", h.handler.Handle)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) token(t *testing.T, id int64, name string) string {
	t.Helper()
	token, err := h.signer.Sign(identity.Claims{ID: id, DisplayName: name, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	return token
}

func (h *harness) dial(roomPath, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/rooms/" + roomPath
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func (h *harness) connect(t *testing.T, id int64, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := h.dial("1", h.token(t, id, name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChatEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.ChatEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func readErrorFrame(t *testing.T, conn *websocket.Conn) models.ErrorFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame models.ErrorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "ERROR", frame.Type)
	return frame
}

func TestHandshakeRejections(t *testing.T) {
	h := newHarness(t)
	valid := h.token(t, 7, "alice")

	cases := []struct {
		name   string
		room   string
		token  string
		status int
	}{
		{"missing token", "1", "", http.StatusUnauthorized},
		{"bad token", "1", "not-a-jwt", http.StatusUnauthorized},
		{"unknown room", "99", valid, http.StatusNotFound},
		{"bad room id", "abc", valid, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := h.dial(tc.room, tc.token)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestRoomConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.connect(t, 7, "alice")
	enter := readEvent(t, alice)
	assert.Equal(t, models.MessageEnter, enter.Type)
	assert.Equal(t, "[notice] alice entered the room.", enter.Body)

	bob := h.connect(t, 8, "bob")
	assert.Equal(t, "[notice] bob entered the room.", readEvent(t, alice).Body)
	assert.Equal(t, "[notice] bob entered the room.", readEvent(t, bob).Body)

	participants, err := h.registry.Participants(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	// sender fields in the frame are ignored
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"TALK","chatRoomId":1,"body":"hello","senderUserId":999,"senderDisplayName":"mallory"}`)))
	for _, conn := range []*websocket.Conn{alice, bob} {
		got := readEvent(t, conn)
		assert.Equal(t, models.MessageTalk, got.Type)
		assert.Equal(t, "hello", got.Body)
		assert.Equal(t, int64(7), got.SenderUserID)
		assert.Equal(t, "alice", got.SenderDisplayName)
	}

	stored, err := h.store.ReadAll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, []models.MessageType{models.MessageEnter, models.MessageEnter, models.MessageTalk}, messageTypes(stored))
	for i, msg := range stored {
		assert.Equal(t, int64(i+1), msg.Position)
	}
	assert.Equal(t, int64(7), stored[0].SenderUserID)
	assert.Equal(t, int64(8), stored[1].SenderUserID)
	assert.Equal(t, int64(7), stored[2].SenderUserID)

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	leave := readEvent(t, alice)
	assert.Equal(t, models.MessageLeave, leave.Type)
	assert.Equal(t, int64(8), leave.SenderUserID)

	stored, err = h.store.ReadAll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, models.MessageLeave, stored[3].Type)
	assert.Equal(t, int64(4), stored[3].Position)

	require.Eventually(t, func() bool {
		p, err := h.registry.Participants(ctx, 1)
		return err == nil && len(p) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.hub.RoomSize(1))
}

func TestFrameForAnotherRoomIsRejected(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, 7, "alice")
	readEvent(t, alice)

	require.NoError(t, alice.WriteJSON(models.ChatRequest{Type: models.MessageTalk, ChatRoomID: 2, Body: "x"}))
	frame := readErrorFrame(t, alice)
	assert.Equal(t, models.ErrCodeBadRequest, frame.Code)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame = readErrorFrame(t, alice)
	assert.Equal(t, models.ErrCodeBadRequest, frame.Code)

	// the session survives bad frames
	require.NoError(t, alice.WriteJSON(models.ChatRequest{Body: "still here"}))
	assert.Equal(t, "still here", readEvent(t, alice).Body)
}

func TestExpiredSessionIsClosedWithPolicyViolation(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, 7, "alice")
	readEvent(t, alice)
	bob := h.connect(t, 8, "bob")
	readEvent(t, alice)
	readEvent(t, bob)

	h.skew.Store(int64(2 * time.Hour))
	require.NoError(t, alice.WriteJSON(models.ChatRequest{Type: models.MessageTalk, Body: "late"}))

	frame := readErrorFrame(t, alice)
	assert.Equal(t, models.ErrCodeUnauthorized, frame.Code)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	leave := readEvent(t, bob)
	assert.Equal(t, models.MessageLeave, leave.Type)
	assert.Equal(t, int64(7), leave.SenderUserID)

	stored, err := h.store.ReadAll(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []models.MessageType{models.MessageEnter, models.MessageEnter, models.MessageLeave}, messageTypes(stored),
		"the rejected frame is not stored")
}

func TestEnterNoticeIsStoredBeforeItIsRelayed(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, 7, "alice")
	assert.Equal(t, models.MessageEnter, readEvent(t, alice).Type)

	stored, err := h.store.ReadAll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.MessageEnter, stored[0].Type)
	assert.Equal(t, int64(1), stored[0].Position)
	assert.Equal(t, "[notice] alice entered the room.", stored[0].Body)
}

func TestWaitReturnsAfterSessionsFinishDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.connect(t, 7, "alice")
	readEvent(t, alice)
	bob := h.connect(t, 8, "bob")
	readEvent(t, alice)
	readEvent(t, bob)

	h.hub.Shutdown()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.handler.Wait(waitCtx))

	participants, err := h.registry.Participants(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, participants)

	stored, err := h.store.ReadAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []models.MessageType{models.MessageEnter, models.MessageEnter, models.MessageLeave, models.MessageLeave},
		messageTypes(stored))
}

func TestWaitHonoursContext(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, 7, "alice")
	readEvent(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.handler.Wait(ctx), context.DeadlineExceeded)
}

func messageTypes(msgs []models.ChatMessage) []models.MessageType {
	out := make([]models.MessageType, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Type)
	}
	return out
}
