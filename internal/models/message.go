package models

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Message is one persisted message. For image/file types Content holds the
// URL of the uploaded resource. ReceiverID may be 0 for synthetic messages.
type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderID   int         `json:"sender_id"`
	ReceiverID int         `json:"receiver_id,omitempty"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Read       bool        `json:"read"`
	ReadAt     *time.Time  `json:"read_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// MessageView is a message joined with both participants' profiles, the
// shape handed to delivery and returned from the send endpoints.
type MessageView struct {
	Message
	Sender   UserInfo `json:"sender"`
	Receiver UserInfo `json:"receiver"`
}

type SendMessageRequest struct {
	ReceiverID int    `json:"receiver_id"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}
