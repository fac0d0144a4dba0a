package ws

import (
	"time"

	"chat-relay/internal/models"
)

type ConnInfo struct {
	ConnID      string
	UserID      int64
	DisplayName string
	RoomID      int64
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Participant is the registry entry for this connection on instance.
func (i ConnInfo) Participant(instance string) models.Participant {
	return models.Participant{
		ConnID:      i.ConnID,
		UserID:      i.UserID,
		DisplayName: i.DisplayName,
		Instance:    instance,
		ConnectedAt: i.ConnectedAt,
	}
}
