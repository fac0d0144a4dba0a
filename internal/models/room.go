package models

import "time"

// ChatRoom is created administratively and never changes while it exists.
type ChatRoom struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Checkpoint records the last message of a room known to be durably stored.
type Checkpoint struct {
	ChatRoomID    int64       `json:"chatRoomId"`
	LastPersisted ChatMessage `json:"lastPersisted"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Position is the position of the last persisted message.
func (c *Checkpoint) Position() int64 {
	return c.LastPersisted.Position
}

// Participant is a user attached to a room through a websocket session.
type Participant struct {
	ConnID      string    `json:"conn_id"`
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Instance    string    `json:"instance"`
	ConnectedAt time.Time `json:"connected_at"`
}
