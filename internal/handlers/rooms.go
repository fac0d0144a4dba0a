package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

// HistoryReader returns a room's full message history.
type HistoryReader interface {
	History(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
}

// RoomHandler serves read-only room endpoints.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	history  HistoryReader
	registry repositories.SessionRegistry
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, history HistoryReader, registry repositories.SessionRegistry) *RoomHandler {
	return &RoomHandler{rooms: rooms, history: history, registry: registry}
}

// ListRooms returns every chat room.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoomMessages returns the history of a room in position order.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID, ok := h.roomFromPath(c)
	if !ok {
		return
	}

	msgs, err := h.history.History(c.Request.Context(), roomID)
	if err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Int64(logging.FieldRoomID, roomID).Msg("load history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetParticipants lists the users attached to a room on any instance.
func (h *RoomHandler) GetParticipants(c *gin.Context) {
	roomID, ok := h.roomFromPath(c)
	if !ok {
		return
	}

	participants, err := h.registry.Participants(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session registry unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// roomFromPath writes the error response itself when it returns false.
func (h *RoomHandler) roomFromPath(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return 0, false
	}

	if _, err := h.rooms.GetRoom(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return 0, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return 0, false
	}
	return roomID, true
}
