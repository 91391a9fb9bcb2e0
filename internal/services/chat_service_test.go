package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
)

func seedUsers(t *testing.T, st store.Store, names ...string) []int {
	t.Helper()
	ids := make([]int, 0, len(names))
	for _, name := range names {
		u := &models.User{Username: name, PasswordHash: "x"}
		if err := st.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey(3, 11) != PairKey(11, 3) {
		t.Fatal("pair key differs by argument order")
	}
	if PairKey(3, 11) != "3_11" {
		t.Fatalf("unexpected pair key %q", PairKey(3, 11))
	}
}

func TestResolveCreatesThenReturnsExisting(t *testing.T) {
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice", "bob")
	svc := NewChatService(st)
	ctx := context.Background()

	chat, outcome, err := svc.Resolve(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != ResolveCreated {
		t.Fatalf("expected created, got %v", outcome)
	}

	// Argument order reversed must resolve to the same chat.
	again, outcome, err := svc.Resolve(ctx, ids[1], ids[0])
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if outcome != ResolveExisting {
		t.Fatalf("expected existing, got %v", outcome)
	}
	if again.ID != chat.ID {
		t.Fatalf("resolved different chats: %s vs %s", again.ID, chat.ID)
	}
}

func TestResolveConcurrentYieldsSingleChat(t *testing.T) {
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice", "bob")
	svc := NewChatService(st)

	const n = 32
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := ids[0], ids[1]
			if i%2 == 1 {
				a, b = b, a
			}
			chat, _, err := svc.Resolve(context.Background(), a, b)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = chat.ID
		}(i)
	}
	wg.Wait()

	first := ""
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if first == "" {
			first = results[i]
		}
		if results[i] != first {
			t.Fatalf("got two distinct chats: %s and %s", first, results[i])
		}
	}

	chats, err := st.ActiveChats(context.Background())
	if err != nil {
		t.Fatalf("active chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected exactly one active chat, got %d", len(chats))
	}
	if chats[0].PairKey != PairKey(ids[0], ids[1]) {
		t.Fatalf("unexpected pair key %q", chats[0].PairKey)
	}
}

func TestResolveRejectsSelfChat(t *testing.T) {
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice")
	svc := NewChatService(st)

	if _, _, err := svc.Resolve(context.Background(), ids[0], ids[0]); !errors.Is(err, ErrSelfChat) {
		t.Fatalf("expected ErrSelfChat, got %v", err)
	}
}

func TestResolveRejectsUnknownUser(t *testing.T) {
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice")
	svc := NewChatService(st)

	_, _, err := svc.Resolve(context.Background(), ids[0], 999)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListForUserOrdersByActivity(t *testing.T) {
	st := store.NewMemory()
	ids := seedUsers(t, st, "alice", "bob", "carol")
	chats := NewChatService(st)
	msgs := NewMessageService(st, chats)
	ctx := context.Background()

	if _, _, err := msgs.Send(ctx, ids[0], ids[1], "to bob", models.MessageText); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, err := msgs.Send(ctx, ids[0], ids[2], "to carol", models.MessageText); err != nil {
		t.Fatalf("send: %v", err)
	}

	items, err := chats.ListForUser(ctx, ids[0])
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// carol's chat is more recent
	if items[0].OtherUser.ID != ids[2] || items[1].OtherUser.ID != ids[1] {
		t.Fatalf("unexpected order: %d then %d", items[0].OtherUser.ID, items[1].OtherUser.ID)
	}
	if items[0].LastMessage == nil || items[0].LastMessage.Content != "to carol" {
		t.Fatalf("missing last message on first item: %+v", items[0].LastMessage)
	}
}
