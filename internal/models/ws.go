package models

// WebSocket event names. Client -> server events carry a WSMessage
// envelope; server -> client payloads always include "event".
const (
	// client -> server
	EventJoinChat        = "join_chat"
	EventLeaveChat       = "leave_chat"
	EventSendMessage     = "send_message"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventMarkMessageRead = "mark_message_read"
	EventDeleteMessage   = "delete_message"

	// server -> client
	EventConnected         = "connected"
	EventJoinedChat        = "joined_chat"
	EventLeftChat          = "left_chat"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessageRead       = "message_read"
	EventMessageDeleted    = "message_deleted"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventError             = "error"
)

// WSMessage is the inbound WebSocket envelope, dispatched on Event.
type WSMessage struct {
	Event      string `json:"event"`
	ChatID     string `json:"chat_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	ReceiverID int    `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`
	Type       string `json:"type,omitempty"`
}
