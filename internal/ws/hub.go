package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"chat-relay/internal/logging"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
)

// Hub tracks the websocket sessions of this instance per room.
type Hub struct {
	rooms map[int64]map[*Client]struct{}
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int64]map[*Client]struct{})}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[c.info.RoomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.info.RoomID] = clients
	}
	clients[c] = struct{}{}
}

// Remove detaches c and closes it. It reports whether c was attached.
func (h *Hub) Remove(c *Client, code int, reason string) bool {
	h.mu.Lock()
	clients, ok := h.rooms[c.info.RoomID]
	_, present := clients[c]
	if ok && present {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.info.RoomID)
		}
	}
	h.mu.Unlock()

	c.closeWith(code, reason)
	return present
}

// RoomSize returns the number of local sessions bound to roomID.
func (h *Hub) RoomSize(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Deliver writes event to every local session of its room. Sessions whose
// buffer is full are dropped. Its signature matches bridge.Handler.
func (h *Hub) Deliver(ctx context.Context, event models.ChatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Int64(logging.FieldRoomID, event.ChatRoomID).Msg("encode event")
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.rooms[event.ChatRoomID] {
		if !c.enqueue(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		l := logging.Ctx(ctx)
		l.Warn().Str(logging.FieldConnID, c.info.ConnID).Int64(logging.FieldRoomID, event.ChatRoomID).Msg("dropping slow client")
		observability.IncWSEvent("dropped")
		h.Remove(c, websocket.CloseTryAgainLater, "slow consumer")
	}
}

// Shutdown closes every session with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Client
	for _, clients := range h.rooms {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.rooms = make(map[int64]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}
