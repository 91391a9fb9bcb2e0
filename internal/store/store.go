package store

import (
	"context"
	"errors"
	"time"

	"dm-backend/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a write violates a unique index
	// (username, or the active pair key on chats).
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the document-store boundary: Users, Chats and Messages with
// unique-index and conditional-update primitives. Two implementations
// exist, Postgres for production and an in-memory one for tests and
// local development.
type Store interface {
	// users
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id int) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateUsername renames a user; a taken name is ErrDuplicateKey.
	UpdateUsername(ctx context.Context, id int, username string) error
	UpdateUserAvatar(ctx context.Context, id int, avatar string) error
	// SetUserPresence updates the online flag and last-seen timestamp.
	// Only the session registry's connect/disconnect transitions call it.
	SetUserPresence(ctx context.Context, id int, online bool, lastSeen time.Time) error

	// chats
	CreateChat(ctx context.Context, c *models.Chat) error
	ChatByID(ctx context.Context, id string) (*models.Chat, error)
	ActiveChatByPairKey(ctx context.Context, pairKey string) (*models.Chat, error)
	ActiveChats(ctx context.Context) ([]models.Chat, error)
	// ChatsForUser returns the user's active chats, most recent activity first.
	ChatsForUser(ctx context.Context, userID int) ([]models.Chat, error)
	// AdvanceChatLastMessage moves the last-message pointer forward. The
	// write is conditional: it applies only when the pointer is empty or
	// not newer than at, so two racing sends cannot regress it.
	AdvanceChatLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error
	// SwapChatLastMessage replaces the pointer only while it still equals
	// ifMessageID; newID may be empty to clear it. Returns whether the
	// write applied. This is the delete/merge recomputation primitive.
	SwapChatLastMessage(ctx context.Context, chatID, ifMessageID, newID string, newAt time.Time) (bool, error)
	DeactivateChat(ctx context.Context, id string) error

	// messages
	// CreateMessage persists m and assigns its creation timestamp; the
	// assigned timestamps define per-chat delivery order.
	CreateMessage(ctx context.Context, m *models.Message) error
	MessageByID(ctx context.Context, id string) (*models.Message, error)
	// MarkMessageRead sets the read flag and timestamp if not already set
	// and returns the current row either way, so the call is idempotent.
	MarkMessageRead(ctx context.Context, id string, at time.Time) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// LatestMessage returns the most recent surviving message of a chat.
	LatestMessage(ctx context.Context, chatID string) (*models.Message, error)
	// MessagesForChat returns the most recent limit messages (skipping
	// offset newer ones) in oldest-first order.
	MessagesForChat(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error)
	// ReassignMessages moves every message of fromChat to toChat and
	// returns how many moved.
	ReassignMessages(ctx context.Context, fromChatID, toChatID string) (int, error)
}
