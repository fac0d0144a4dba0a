package models

import "time"

// MessageType distinguishes user talk from presence notices.
type MessageType string

const (
	MessageEnter MessageType = "ENTER"
	MessageLeave MessageType = "LEAVE"
	MessageTalk  MessageType = "TALK"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageEnter, MessageLeave, MessageTalk:
		return true
	}
	return false
}

// ChatMessage is a single entry of a room's history. Position is assigned by
// the fast store on append and is strictly increasing per room.
type ChatMessage struct {
	Type              MessageType `db:"type" json:"type"`
	ChatRoomID        int64       `db:"chat_room_id" json:"chatRoomId"`
	SenderUserID      int64       `db:"sender_user_id" json:"senderUserId"`
	SenderDisplayName string      `db:"sender_display_name" json:"senderDisplayName"`
	Body              string      `db:"body" json:"body"`
	SentAt            time.Time   `db:"sent_at" json:"sentAt"`
	Position          int64       `db:"position" json:"position"`
}

// ChatRequest is the inbound frame sent by a websocket client.
type ChatRequest struct {
	Type       MessageType `json:"type"`
	ChatRoomID int64       `json:"chatRoomId"`
	Body       string      `json:"body"`
}

// ChatEvent is relayed through the bridge and written to room subscribers.
type ChatEvent struct {
	Type              MessageType `json:"type"`
	ChatRoomID        int64       `json:"chatRoomId"`
	SenderUserID      int64       `json:"senderUserId"`
	SenderDisplayName string      `json:"senderDisplayName"`
	Body              string      `json:"body"`
	SentAt            time.Time   `json:"sentAt"`
}

// EventFromMessage drops store-internal fields before a message goes on the wire.
func EventFromMessage(msg ChatMessage) ChatEvent {
	return ChatEvent{
		Type:              msg.Type,
		ChatRoomID:        msg.ChatRoomID,
		SenderUserID:      msg.SenderUserID,
		SenderDisplayName: msg.SenderDisplayName,
		Body:              msg.Body,
		SentAt:            msg.SentAt,
	}
}

// ErrorFrame is written to a single client when its frame is rejected.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// NewErrorFrame builds an error frame.
func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: "ERROR", Code: code, Message: message}
}
