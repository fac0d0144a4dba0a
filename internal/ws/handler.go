package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-relay/internal/config"
	"chat-relay/internal/identity"
	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
)

// ChatService is what a websocket session needs from the chat service.
type ChatService interface {
	BuildEnterOrLeave(msgType models.MessageType, roomID int64, user identity.Claims) (models.ChatMessage, error)
	RecordPresence(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	RecordTalkMessage(ctx context.Context, req models.ChatRequest, claims identity.Claims) (models.ChatMessage, error)
	Publish(ctx context.Context, msg models.ChatMessage) error
}

// ChatWebSocketHandler handles room websocket connections.
type ChatWebSocketHandler struct {
	hub      *Hub
	chat     ChatService
	rooms    repositories.RoomRepository
	registry repositories.SessionRegistry
	verifier identity.Verifier
	cfg      config.WebSocketConfig
	instance string

	sessions sync.WaitGroup
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(
	hub *Hub,
	chat ChatService,
	rooms repositories.RoomRepository,
	registry repositories.SessionRegistry,
	verifier identity.Verifier,
	cfg config.WebSocketConfig,
	instance string,
) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		hub:      hub,
		chat:     chat,
		rooms:    rooms,
		registry: registry,
		verifier: verifier,
		cfg:      cfg,
		instance: instance,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the request, upgrades it and runs the session.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.room_id", roomID))
	c.Request = c.Request.WithContext(ctx)

	token := identity.TokenFromRequest(c.Request)
	if token == "" {
		observability.IncWSEvent("rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		observability.IncWSEvent("rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := h.rooms.GetRoom(ctx, roomID); err != nil {
		observability.IncWSEvent("rejected")
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.ID,
		DisplayName: claims.DisplayName,
		RoomID:      roomID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.SetAttributes(attribute.String("ws.conn_id", info.ConnID), attribute.Int64("user.id", info.UserID))

	// The session outlives the upgrade request.
	sessionCtx := context.WithoutCancel(ctx)
	l := logging.Ctx(sessionCtx).With().
		Str(logging.FieldConnID, info.ConnID).
		Int64(logging.FieldUserID, info.UserID).
		Int64(logging.FieldRoomID, roomID).
		Logger()
	sessionCtx = logging.WithLogger(sessionCtx, l)

	client := newClient(conn, info, claims, h.cfg)
	h.hub.Add(client)
	go client.writePump()

	if err := h.registry.Register(sessionCtx, roomID, info.Participant(h.instance)); err != nil {
		l.Warn().Err(err).Msg("session registry register failed")
	}
	observability.IncWSActive()
	observability.IncWSEvent("connect")
	l.Info().Msg("websocket connected")

	h.announce(sessionCtx, models.MessageEnter, client)

	h.sessions.Add(1)
	go h.serve(sessionCtx, client)
}

// Wait blocks until every session has finished its disconnect, or ctx is done.
// Call it after the HTTP server stopped accepting upgrades.
func (h *ChatWebSocketHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ChatWebSocketHandler) serve(ctx context.Context, client *Client) {
	defer h.sessions.Done()
	defer h.disconnect(ctx, client)
	client.readPump(func(data []byte) bool {
		return h.onFrame(ctx, client, data)
	})
}

// onFrame handles one inbound frame and reports whether the session stays open.
func (h *ChatWebSocketHandler) onFrame(ctx context.Context, client *Client, data []byte) bool {
	observability.IncWSEvent("message")

	var req models.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.enqueue(errorFrame(models.ErrCodeBadRequest, "malformed frame"))
		return true
	}
	if req.ChatRoomID == 0 {
		req.ChatRoomID = client.info.RoomID
	}
	if req.ChatRoomID != client.info.RoomID {
		client.enqueue(errorFrame(models.ErrCodeBadRequest, fmt.Sprintf("session is bound to room %d", client.info.RoomID)))
		return true
	}

	msg, err := h.chat.RecordTalkMessage(ctx, req, client.claims)
	switch {
	case errors.Is(err, identity.ErrIdentityResolution):
		l := logging.Ctx(ctx)
		l.Info().Err(err).Msg("closing session with invalid claims")
		client.enqueue(errorFrame(models.ErrCodeUnauthorized, "session is no longer authorized"))
		h.hub.Remove(client, websocket.ClosePolicyViolation, "unauthorized")
		return false
	case errors.Is(err, repositories.ErrStoreUnavailable):
		client.enqueue(errorFrame(models.ErrCodeUnavailable, "message store unavailable"))
		return true
	case err != nil:
		client.enqueue(errorFrame(models.ErrCodeInternal, "failed to record message"))
		return true
	}

	if err := h.chat.Publish(ctx, msg); err != nil {
		client.enqueue(errorFrame(models.ErrCodeUnavailable, "message stored but not relayed"))
	}
	return true
}

func (h *ChatWebSocketHandler) disconnect(ctx context.Context, client *Client) {
	h.hub.Remove(client, websocket.CloseNormalClosure, "")

	h.announce(ctx, models.MessageLeave, client)

	if err := h.registry.Deregister(ctx, client.info.RoomID, client.info.ConnID); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("session registry deregister failed")
	}
	observability.DecWSActive()
	observability.IncWSEvent("disconnect")

	l := logging.Ctx(ctx)
	l.Info().Dur("duration", time.Since(client.info.ConnectedAt)).Msg("websocket disconnected")
}

func (h *ChatWebSocketHandler) announce(ctx context.Context, msgType models.MessageType, client *Client) {
	msg, err := h.chat.BuildEnterOrLeave(msgType, client.info.RoomID, client.claims)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Str("type", string(msgType)).Msg("build presence notice")
		return
	}
	if recorded, err := h.chat.RecordPresence(ctx, msg); err != nil {
		// Live members still get the notice; only its history entry is lost.
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str("type", string(msgType)).Msg("record presence notice")
	} else {
		msg = recorded
	}
	// Publish logs and counts its own failures.
	_ = h.chat.Publish(ctx, msg)
}
