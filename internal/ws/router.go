package ws

import (
	"sync"
	"time"

	"dm-backend/internal/models"
)

// DefaultTypingTTL is how long a typing indicator may stay up without a
// repeat typing_start before the router emits a synthetic stop.
const DefaultTypingTTL = 10 * time.Second

// Router fans messages and events out to the right set of live
// recipients: the sender's own channel, the receiver's personal channel
// and the shared chat room, each session at most once. Channels with no
// live session are silent no-ops; there is no store-and-forward queue.
type Router struct {
	hub       *Hub
	typingTTL time.Duration

	mu     sync.Mutex
	typing map[typingKey]*typingState
}

type typingKey struct {
	chatID string
	userID int
}

type typingState struct {
	timer      *time.Timer
	receiverID int
	username   string
}

func NewRouter(hub *Hub) *Router {
	return NewRouterTTL(hub, DefaultTypingTTL)
}

func NewRouterTTL(hub *Hub, typingTTL time.Duration) *Router {
	return &Router{hub: hub, typingTTL: typingTTL, typing: make(map[typingKey]*typingState)}
}

// DeliverMessage routes a freshly persisted message: message_sent to
// every session of the sender (delivery confirmation), new_message to
// every session of the receiver and to any other session viewing the
// chat room. The caller guarantees the message is persisted before this
// runs, so delivery order follows the store's commit order.
func (r *Router) DeliverMessage(view *models.MessageView, chat *models.Chat) {
	delivered := make(map[string]bool)

	sent := map[string]interface{}{
		"event":   models.EventMessageSent,
		"chat_id": chat.ID,
		"message": view,
	}
	for _, s := range r.hub.SessionsFor(view.SenderID) {
		s.Send(sent)
		delivered[s.ID] = true
	}

	incoming := map[string]interface{}{
		"event":   models.EventNewMessage,
		"chat_id": chat.ID,
		"message": view,
	}
	for _, s := range r.hub.SessionsFor(view.ReceiverID) {
		if !delivered[s.ID] {
			s.Send(incoming)
			delivered[s.ID] = true
		}
	}
	for _, s := range r.hub.RoomSessions(chat.ID) {
		if !delivered[s.ID] {
			s.Send(incoming)
			delivered[s.ID] = true
		}
	}
}

// DeliverRead notifies the original sender that their message was read.
func (r *Router) DeliverRead(msg *models.Message) {
	payload := map[string]interface{}{
		"event":      models.EventMessageRead,
		"message_id": msg.ID,
		"chat_id":    msg.ChatID,
		"read_at":    msg.ReadAt,
	}
	for _, s := range r.hub.SessionsFor(msg.SenderID) {
		s.Send(payload)
	}
}

// DeliverDeleted announces a deletion to the chat room and to both
// participants' personal channels, each session at most once.
func (r *Router) DeliverDeleted(msg *models.Message, chat *models.Chat) {
	payload := map[string]interface{}{
		"event":      models.EventMessageDeleted,
		"message_id": msg.ID,
		"chat_id":    chat.ID,
	}
	delivered := make(map[string]bool)
	recipients := r.hub.RoomSessions(chat.ID)
	recipients = append(recipients, r.hub.SessionsFor(chat.UserA)...)
	recipients = append(recipients, r.hub.SessionsFor(chat.UserB)...)
	for _, s := range recipients {
		if !delivered[s.ID] {
			s.Send(payload)
			delivered[s.ID] = true
		}
	}
}

// DeliverTypingStart relays a typing indicator to the receiver's
// personal channel and arms the idle timer that auto-clears it. Typing
// state is never persisted; delivery is best-effort.
func (r *Router) DeliverTypingStart(chatID string, senderID int, senderName string, receiverID int) {
	r.mu.Lock()
	key := typingKey{chatID: chatID, userID: senderID}
	if st, ok := r.typing[key]; ok {
		st.timer.Reset(r.typingTTL)
		r.mu.Unlock()
		return
	}
	st := &typingState{receiverID: receiverID, username: senderName}
	st.timer = time.AfterFunc(r.typingTTL, func() { r.expireTyping(key) })
	r.typing[key] = st
	r.mu.Unlock()

	r.sendTyping(models.EventUserTyping, chatID, senderID, senderName, receiverID)
}

// DeliverTypingStop clears the indicator and relays the stop.
func (r *Router) DeliverTypingStop(chatID string, senderID int, senderName string, receiverID int) {
	r.mu.Lock()
	key := typingKey{chatID: chatID, userID: senderID}
	if st, ok := r.typing[key]; ok {
		st.timer.Stop()
		delete(r.typing, key)
	}
	r.mu.Unlock()

	r.sendTyping(models.EventUserStoppedTyping, chatID, senderID, senderName, receiverID)
}

// ClearTyping emits a synthetic stop for every chat a user was typing
// in; run when the user's session ends without a typing_stop.
func (r *Router) ClearTyping(userID int) {
	r.mu.Lock()
	var stale []struct {
		key typingKey
		st  *typingState
	}
	for key, st := range r.typing {
		if key.userID == userID {
			st.timer.Stop()
			delete(r.typing, key)
			stale = append(stale, struct {
				key typingKey
				st  *typingState
			}{key, st})
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.sendTyping(models.EventUserStoppedTyping, e.key.chatID, e.key.userID, e.st.username, e.st.receiverID)
	}
}

func (r *Router) expireTyping(key typingKey) {
	r.mu.Lock()
	st, ok := r.typing[key]
	if ok {
		delete(r.typing, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.sendTyping(models.EventUserStoppedTyping, key.chatID, key.userID, st.username, st.receiverID)
}

func (r *Router) sendTyping(event, chatID string, senderID int, senderName string, receiverID int) {
	payload := map[string]interface{}{
		"event":    event,
		"chat_id":  chatID,
		"user_id":  senderID,
		"username": senderName,
	}
	for _, s := range r.hub.SessionsFor(receiverID) {
		s.Send(payload)
	}
}

// DeliverPresence broadcasts an online/offline transition to every
// session except the affected user's own.
func (r *Router) DeliverPresence(user *models.User, online bool) {
	payload := map[string]interface{}{
		"event":    models.EventUserOffline,
		"user_id":  user.ID,
		"username": user.Username,
	}
	if online {
		payload["event"] = models.EventUserOnline
		payload["avatar"] = user.Avatar
	}
	for _, s := range r.hub.Sessions(user.ID) {
		s.Send(payload)
	}
}
