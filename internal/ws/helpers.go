package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"chat-relay/internal/models"
)

func newConnID() string {
	return uuid.NewString()
}

func errorFrame(code, message string) []byte {
	data, _ := json.Marshal(models.NewErrorFrame(code, message))
	return data
}
