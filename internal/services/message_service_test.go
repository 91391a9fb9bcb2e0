package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
)

func newMessageFixture(t *testing.T) (store.Store, *MessageService, []int) {
	t.Helper()
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice", "bob")
	chats := NewChatService(st)
	return st, NewMessageService(st, chats), ids
}

func TestSendCreatesChatAndMessage(t *testing.T) {
	st, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	view, chat, err := svc.Send(ctx, ids[0], ids[1], "hi", models.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if chat.PairKey != PairKey(ids[0], ids[1]) {
		t.Fatalf("unexpected pair key %q", chat.PairKey)
	}
	if view.ChatID != chat.ID {
		t.Fatalf("message chat %q != chat %q", view.ChatID, chat.ID)
	}
	if view.Sender.Username != "alice" || view.Receiver.Username != "bob" {
		t.Fatalf("profiles not joined: %+v", view)
	}

	stored, err := st.ChatByID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("chat by id: %v", err)
	}
	if stored.LastMessageID != view.ID {
		t.Fatalf("last-message pointer %q != %q", stored.LastMessageID, view.ID)
	}
	if stored.LastMessageAt != view.CreatedAt {
		t.Fatalf("last-message timestamp mismatch")
	}
}

func TestSendValidation(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	var verr *ValidationError
	if _, _, err := svc.Send(ctx, ids[0], ids[1], "", models.MessageText); !errors.As(err, &verr) {
		t.Fatalf("empty content: expected validation error, got %v", err)
	}
	if _, _, err := svc.Send(ctx, ids[0], 999, "hi", models.MessageText); !errors.As(err, &verr) {
		t.Fatalf("unknown receiver: expected validation error, got %v", err)
	}
	if _, _, err := svc.Send(ctx, ids[0], ids[1], "hi", "carrier-pigeon"); !errors.As(err, &verr) {
		t.Fatalf("bad type: expected validation error, got %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	view, _, err := svc.Send(ctx, ids[0], ids[1], "hi", models.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := svc.MarkRead(ctx, view.ID, ids[1])
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !first.Read || first.ReadAt == nil {
		t.Fatalf("not marked read: %+v", first)
	}

	second, err := svc.MarkRead(ctx, view.ID, ids[1])
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if !second.Read || !second.ReadAt.Equal(*first.ReadAt) {
		t.Fatalf("second mark changed state: %v vs %v", second.ReadAt, first.ReadAt)
	}
}

func TestMarkReadRequiresReceiver(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	view, _, err := svc.Send(ctx, ids[0], ids[1], "hi", models.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.MarkRead(ctx, view.ID, ids[0]); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestMarkReadDeletedMessageIsNotFound(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	view, _, err := svc.Send(ctx, ids[0], ids[1], "hi", models.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.Delete(ctx, view.ID, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.MarkRead(ctx, view.ID, ids[1]); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRequiresSender(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	view, _, err := svc.Send(ctx, ids[0], ids[1], "hi", models.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.Delete(ctx, view.ID, ids[1]); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDeleteRepointsLastMessage(t *testing.T) {
	st, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	m1, chat, err := svc.Send(ctx, ids[0], ids[1], "first", models.MessageText)
	if err != nil {
		t.Fatalf("send m1: %v", err)
	}
	m2, _, err := svc.Send(ctx, ids[0], ids[1], "second", models.MessageText)
	if err != nil {
		t.Fatalf("send m2: %v", err)
	}

	// Deleting the latest repoints to the survivor.
	if _, err := svc.Delete(ctx, m2.ID, ids[0]); err != nil {
		t.Fatalf("delete m2: %v", err)
	}
	got, _ := st.ChatByID(ctx, chat.ID)
	if got.LastMessageID != m1.ID {
		t.Fatalf("pointer %q, want %q", got.LastMessageID, m1.ID)
	}

	// Deleting the only remaining message clears the pointer.
	if _, err := svc.Delete(ctx, m1.ID, ids[0]); err != nil {
		t.Fatalf("delete m1: %v", err)
	}
	got, _ = st.ChatByID(ctx, chat.ID)
	if got.LastMessageID != "" || !got.LastMessageAt.IsZero() {
		t.Fatalf("pointer not cleared: %q %v", got.LastMessageID, got.LastMessageAt)
	}
}

func TestDeleteOfOlderMessageKeepsPointer(t *testing.T) {
	st, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	m1, chat, err := svc.Send(ctx, ids[0], ids[1], "first", models.MessageText)
	if err != nil {
		t.Fatalf("send m1: %v", err)
	}
	m2, _, err := svc.Send(ctx, ids[0], ids[1], "second", models.MessageText)
	if err != nil {
		t.Fatalf("send m2: %v", err)
	}

	if _, err := svc.Delete(ctx, m1.ID, ids[0]); err != nil {
		t.Fatalf("delete m1: %v", err)
	}
	got, _ := st.ChatByID(ctx, chat.ID)
	if got.LastMessageID != m2.ID {
		t.Fatalf("pointer %q, want %q", got.LastMessageID, m2.ID)
	}
}

func TestConcurrentDeleteAndSendConverge(t *testing.T) {
	st, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	// Repeat to give the race a chance to interleave both ways.
	for i := 0; i < 50; i++ {
		m1, chat, err := svc.Send(ctx, ids[0], ids[1], "m1", models.MessageText)
		if err != nil {
			t.Fatalf("send m1: %v", err)
		}

		var wg sync.WaitGroup
		var m2 *models.MessageView
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := svc.Delete(ctx, m1.ID, ids[0]); err != nil {
				t.Errorf("delete: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			var err error
			m2, _, err = svc.Send(ctx, ids[1], ids[0], "m2", models.MessageText)
			if err != nil {
				t.Errorf("send m2: %v", err)
			}
		}()
		wg.Wait()
		if t.Failed() {
			t.FailNow()
		}

		got, err := st.ChatByID(ctx, chat.ID)
		if err != nil {
			t.Fatalf("chat by id: %v", err)
		}
		if got.LastMessageID != m2.ID {
			t.Fatalf("iteration %d: pointer %q, want %q", i, got.LastMessageID, m2.ID)
		}

		// Reset for the next round.
		if _, err := svc.Delete(ctx, m2.ID, ids[1]); err != nil {
			t.Fatalf("cleanup delete: %v", err)
		}
	}
}

func TestHistoryOldestFirstAndAuthorized(t *testing.T) {
	_, svc, ids := newMessageFixture(t)
	ctx := context.Background()

	var chatID string
	for _, text := range []string{"one", "two", "three"} {
		_, chat, err := svc.Send(ctx, ids[0], ids[1], text, models.MessageText)
		if err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
		chatID = chat.ID
	}

	history, err := svc.History(ctx, chatID, ids[1], 50, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "one" || history[2].Content != "three" {
		t.Fatalf("history not oldest-first: %+v", history)
	}

	if _, err := svc.History(ctx, chatID, 999, 50, 0); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}
