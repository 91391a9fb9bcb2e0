package services

import (
	"context"
	"errors"
	"fmt"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"github.com/google/uuid"
)

type ChatService struct {
	st store.Store
}

func NewChatService(st store.Store) *ChatService {
	return &ChatService{st: st}
}

// PairKey derives the canonical chat key for two users: ids in ascending
// order joined with an underscore, identical regardless of who initiates.
func PairKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

type ResolveOutcome int

const (
	ResolveCreated ResolveOutcome = iota
	ResolveExisting
)

// Resolve returns the single active chat for the two users, creating it
// if absent. Two concurrent callers may both observe "absent" and both
// insert; the store's unique index on the pair key rejects one of them,
// which is recovered by re-reading, never surfaced. Self-chat is rejected.
func (s *ChatService) Resolve(ctx context.Context, userA, userB int) (*models.Chat, ResolveOutcome, error) {
	if userA == userB {
		return nil, 0, ErrSelfChat
	}
	if _, err := s.st.UserByID(ctx, userA); err != nil {
		return nil, 0, resolveUserErr("user_a", err)
	}
	if _, err := s.st.UserByID(ctx, userB); err != nil {
		return nil, 0, resolveUserErr("user_b", err)
	}

	key := PairKey(userA, userB)

	chat, err := s.st.ActiveChatByPairKey(ctx, key)
	if err == nil {
		return chat, ResolveExisting, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}

	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	chat = &models.Chat{
		ID:      uuid.New().String(),
		UserA:   lo,
		UserB:   hi,
		PairKey: key,
		Active:  true,
	}

	err = s.st.CreateChat(ctx, chat)
	if err == nil {
		return chat, ResolveCreated, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return nil, 0, err
	}

	// Lost the creation race: the chat exists now, return it.
	chat, err = s.st.ActiveChatByPairKey(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, ErrChatAnomaly
		}
		return nil, 0, err
	}
	return chat, ResolveExisting, nil
}

func resolveUserErr(field string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return invalid(field, "unknown user")
	}
	return err
}

func (s *ChatService) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	return s.st.ChatByID(ctx, chatID)
}

// ListForUser builds the chat list: active chats most-recent-first with
// counterpart profile and last message, deduplicated by counterpart in
// case legacy duplicates survive until the next reconciliation sweep.
func (s *ChatService) ListForUser(ctx context.Context, userID int) ([]models.ChatListItem, error) {
	chats, err := s.st.ChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	items := make([]models.ChatListItem, 0, len(chats))
	seen := make(map[int]bool)
	for i := range chats {
		c := &chats[i]
		otherID := c.Other(userID)
		if seen[otherID] {
			continue
		}

		other, err := s.st.UserByID(ctx, otherID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Orphaned chat, left for the sweep to deactivate.
				continue
			}
			return nil, err
		}
		seen[otherID] = true

		item := models.ChatListItem{
			ChatID:       c.ID,
			OtherUser:    other.Info(),
			LastActivity: c.LastActivity(),
		}
		if c.LastMessageID != "" {
			if last, err := s.st.MessageByID(ctx, c.LastMessageID); err == nil {
				item.LastMessage = last
			}
		}
		items = append(items, item)
	}
	return items, nil
}
