package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"dm-backend/internal/models"
)

// Memory is the in-memory Store used by STORE_DRIVER=memory and by the
// service tests. It enforces the same constraints as the Postgres
// implementation: unique usernames, at most one active chat per pair
// key, and the conditional last-message writes.
type Memory struct {
	mu         sync.Mutex
	users      map[int]*models.User
	byUsername map[string]int
	nextUserID int
	chats      map[string]*models.Chat
	activePair map[string]string // pair key -> active chat id
	messages   map[string]*models.Message
	msgOrder   []string // insertion (commit) order of message ids
	lastStamp  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[int]*models.User),
		byUsername: make(map[string]int),
		nextUserID: 1,
		chats:      make(map[string]*models.Chat),
		activePair: make(map[string]string),
		messages:   make(map[string]*models.Message),
	}
}

// stamp returns a strictly increasing timestamp so commit order is total.
func (m *Memory) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = now
	return now
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[u.Username]; ok {
		return ErrDuplicateKey
	}
	u.ID = m.nextUserID
	m.nextUserID++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.stamp()
	}
	cp := *u
	m.users[u.ID] = &cp
	m.byUsername[u.Username] = u.ID
	return nil
}

func (m *Memory) UserByID(_ context.Context, id int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateUsername(_ context.Context, id int, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if other, taken := m.byUsername[username]; taken && other != id {
		return ErrDuplicateKey
	}
	delete(m.byUsername, u.Username)
	u.Username = username
	m.byUsername[username] = id
	return nil
}

func (m *Memory) UpdateUserAvatar(_ context.Context, id int, avatar string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Avatar = avatar
	return nil
}

func (m *Memory) SetUserPresence(_ context.Context, id int, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	u.LastSeen = lastSeen
	return nil
}

func (m *Memory) CreateChat(_ context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Active {
		if _, ok := m.activePair[c.PairKey]; ok {
			return ErrDuplicateKey
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.stamp()
	}
	cp := *c
	m.chats[c.ID] = &cp
	if c.Active {
		m.activePair[c.PairKey] = c.ID
	}
	return nil
}

// OverwriteChat replaces a chat row verbatim, without re-checking the
// pair-key constraint. It exists to seed legacy states (duplicates
// predating the constraint) in migrations and tests; it is not part of
// the Store interface.
func (m *Memory) OverwriteChat(_ context.Context, c *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.chats[c.ID]
	if !ok {
		return ErrNotFound
	}
	if m.activePair[old.PairKey] == c.ID {
		delete(m.activePair, old.PairKey)
	}
	cp := *c
	m.chats[c.ID] = &cp
	return nil
}

func (m *Memory) ChatByID(_ context.Context, id string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ActiveChatByPairKey(_ context.Context, pairKey string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.activePair[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.chats[id]
	return &cp, nil
}

func (m *Memory) ActiveChats(_ context.Context) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chat
	for _, c := range m.chats {
		if c.Active {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ChatsForUser(_ context.Context, userID int) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chat
	for _, c := range m.chats {
		if c.Active && c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

func (m *Memory) AdvanceChatLastMessage(_ context.Context, chatID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if c.LastMessageID == "" || !c.LastMessageAt.After(at) {
		c.LastMessageID = messageID
		c.LastMessageAt = at
	}
	return nil
}

func (m *Memory) SwapChatLastMessage(_ context.Context, chatID, ifMessageID, newID string, newAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return false, ErrNotFound
	}
	if c.LastMessageID != ifMessageID {
		return false, nil
	}
	c.LastMessageID = newID
	c.LastMessageAt = newAt
	return true, nil
}

func (m *Memory) DeactivateChat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	if c.Active {
		c.Active = false
		if m.activePair[c.PairKey] == id {
			delete(m.activePair, c.PairKey)
			// Re-point the index if a legacy duplicate is still active.
			for _, other := range m.chats {
				if other.Active && other.PairKey == c.PairKey {
					m.activePair[c.PairKey] = other.ID
					break
				}
			}
		}
	}
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return ErrDuplicateKey
	}
	msg.CreatedAt = m.stamp()
	cp := *msg
	m.messages[msg.ID] = &cp
	m.msgOrder = append(m.msgOrder, msg.ID)
	return nil
}

func (m *Memory) MessageByID(_ context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) MarkMessageRead(_ context.Context, id string, at time.Time) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !msg.Read {
		msg.Read = true
		ts := at
		msg.ReadAt = &ts
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	return nil
}

// chatMessages returns live messages of a chat in commit order.
func (m *Memory) chatMessages(chatID string) []*models.Message {
	var out []*models.Message
	for _, id := range m.msgOrder {
		if msg, ok := m.messages[id]; ok && msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) LatestMessage(_ context.Context, chatID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.chatMessages(chatID)
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	cp := *msgs[len(msgs)-1]
	return &cp, nil
}

func (m *Memory) MessagesForChat(_ context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.chatMessages(chatID)
	// Trim from the newest end: drop offset newest, then keep limit.
	end := len(msgs) - offset
	if end < 0 {
		end = 0
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]models.Message, 0, end-start)
	for _, msg := range msgs[start:end] {
		out = append(out, *msg)
	}
	return out, nil
}

func (m *Memory) ReassignMessages(_ context.Context, fromChatID, toChatID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := 0
	for _, msg := range m.messages {
		if msg.ChatID == fromChatID {
			msg.ChatID = toChatID
			moved++
		}
	}
	return moved, nil
}
