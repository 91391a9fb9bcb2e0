package ws

import "sync"

// Hub is the session registry: the process-lifetime map from user id to
// live sessions, plus per-chat room subscriptions. It is the single
// source of truth for "is this user reachable". All mutations happen
// under one mutex; store side effects of presence transitions are the
// caller's business and never run under the lock.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // session id -> session
	users    map[int]map[string]*Session    // user id -> sessions
	rooms    map[string]map[string]*Session // chat id -> session id -> session
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		users:    make(map[int]map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// Register adds a session and reports whether its user just came online
// (had no session before). Multiple concurrent sessions per user are
// kept; the registry is a multi-map, not last-wins.
func (h *Hub) Register(s *Session) (firstSession bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.ID] = s
	if h.users[s.UserID] == nil {
		h.users[s.UserID] = make(map[string]*Session)
		firstSession = true
	}
	h.users[s.UserID][s.ID] = s
	return firstSession
}

// Unregister removes a session from the registry and from every room it
// joined, and reports whether this was the user's last session (the
// user is now offline).
func (h *Hub) Unregister(sessionID string) (lastSession bool, userID int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[sessionID]
	if !exists {
		return false, 0, false
	}
	delete(h.sessions, sessionID)

	for chatID, room := range h.rooms {
		if _, in := room[sessionID]; in {
			delete(room, sessionID)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}

	if userSessions := h.users[s.UserID]; userSessions != nil {
		delete(userSessions, sessionID)
		if len(userSessions) == 0 {
			delete(h.users, s.UserID)
			lastSession = true
		}
	}
	return lastSession, s.UserID, true
}

func (h *Hub) IsOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// SessionsFor routes a user id to its live sessions.
func (h *Hub) SessionsFor(userID int) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.users[userID]))
	for _, s := range h.users[userID] {
		out = append(out, s)
	}
	return out
}

// Sessions returns every live session, optionally excluding one user's.
func (h *Hub) Sessions(excludeUserID int) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.UserID == excludeUserID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Join subscribes a session to a chat room. The session must be
// registered; a stale id is ignored.
func (h *Hub) Join(chatID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]*Session)
	}
	h.rooms[chatID][sessionID] = s
}

func (h *Hub) Leave(chatID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[chatID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// RoomSessions returns the sessions currently viewing a chat. A room
// nobody subscribed to yields nil, delivery to it is a silent no-op.
func (h *Hub) RoomSessions(chatID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[chatID]
	out := make([]*Session, 0, len(room))
	for _, s := range room {
		out = append(out, s)
	}
	return out
}
