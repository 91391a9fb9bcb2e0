package services

import (
	"context"
	"errors"
	"log"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
)

type SweepReport struct {
	Orphaned int `json:"orphaned"`
	Merged   int `json:"merged"`
}

// Reconcile is the maintenance sweep over all active chats: it
// deactivates chats referencing a deleted user, and for each pair key
// with more than one active chat (legacy data, or a race the resolver
// should normally prevent) it keeps the most recently active one,
// reassigns the messages of the others to it and deactivates them.
// Chats are only deactivated, never deleted, so the sweep is safe to
// run repeatedly and concurrently with live traffic.
func (s *ChatService) Reconcile(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	chats, err := s.st.ActiveChats(ctx)
	if err != nil {
		return report, err
	}

	byKey := make(map[string][]models.Chat)
	for _, c := range chats {
		orphaned, err := s.isOrphan(ctx, &c)
		if err != nil {
			return report, err
		}
		if orphaned {
			if err := s.st.DeactivateChat(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return report, err
			}
			report.Orphaned++
			continue
		}
		byKey[c.PairKey] = append(byKey[c.PairKey], c)
	}

	for key, group := range byKey {
		if len(group) < 2 {
			continue
		}

		keep := group[0]
		for _, c := range group[1:] {
			if c.LastActivity().After(keep.LastActivity()) {
				keep = c
			}
		}

		for _, c := range group {
			if c.ID == keep.ID {
				continue
			}
			moved, err := s.st.ReassignMessages(ctx, c.ID, keep.ID)
			if err != nil {
				return report, err
			}
			if err := s.st.DeactivateChat(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return report, err
			}
			log.Printf("sweep: merged chat %s into %s (pair %s, %d messages)", c.ID, keep.ID, key, moved)
			report.Merged++
		}

		// Absorbed messages may be newer than the keeper's pointer.
		if err := s.recomputeAfterMerge(ctx, keep.ID); err != nil {
			return report, err
		}
	}

	return report, nil
}

func (s *ChatService) isOrphan(ctx context.Context, c *models.Chat) (bool, error) {
	for _, id := range []int{c.UserA, c.UserB} {
		if _, err := s.st.UserByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return true, nil
			}
			return false, err
		}
	}
	return false, nil
}

func (s *ChatService) recomputeAfterMerge(ctx context.Context, chatID string) error {
	latest, err := s.st.LatestMessage(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.st.AdvanceChatLastMessage(ctx, chatID, latest.ID, latest.CreatedAt)
}
