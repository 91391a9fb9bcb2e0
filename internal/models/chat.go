package models

import "time"

// Chat is a direct conversation between exactly two users. UserA/UserB are
// stored in ascending order so the pair is canonical; PairKey is the
// uniqueness anchor (at most one active chat per pair key).
type Chat struct {
	ID            string    `json:"id"`
	UserA         int       `json:"user_a"`
	UserB         int       `json:"user_b"`
	PairKey       string    `json:"pair_key"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *Chat) HasParticipant(userID int) bool {
	return c.UserA == userID || c.UserB == userID
}

// Other returns the counterpart of userID, or 0 if userID is not a participant.
func (c *Chat) Other(userID int) int {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return 0
}

// LastActivity is the ordering key for chat lists and for picking the
// surviving duplicate during reconciliation.
func (c *Chat) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

type CreateChatRequest struct {
	RecipientID int `json:"recipient_id"`
}

// ChatListItem is one row of the chat list: the chat, the counterpart's
// profile with live status, and the denormalized last message.
type ChatListItem struct {
	ChatID          string    `json:"chat_id"`
	OtherUser       UserInfo  `json:"other_user"`
	OtherUserStatus string    `json:"other_user_status"`
	LastMessage     *Message  `json:"last_message,omitempty"`
	LastActivity    time.Time `json:"last_activity"`
}
