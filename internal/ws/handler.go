package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/presence"
	"dm-backend/internal/services"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const maxFrameSize = 8 * 1024

// Handler owns the per-connection event loop: authenticate (middleware),
// register in the hub, dispatch inbound events, unregister on disconnect.
type Handler struct {
	hub      *Hub
	router   *Router
	users    *services.UserService
	chats    *services.ChatService
	messages *services.MessageService
	presence *presence.Cache
}

func NewHandler(hub *Hub, router *Router, users *services.UserService, chats *services.ChatService, messages *services.MessageService, cache *presence.Cache) *Handler {
	return &Handler{hub: hub, router: router, users: users, chats: chats, messages: messages, presence: cache}
}

// Serve returns the fiber handler for the upgraded connection. The auth
// middleware has already placed user_id/username in locals.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID := c.Locals("user_id").(int)
		username, _ := c.Locals("username").(string)

		sess := NewSession(userID, username, c)
		go sess.Run()

		first := h.hub.Register(sess)
		sess.Send(map[string]interface{}{
			"event":      models.EventConnected,
			"session_id": sess.ID,
		})
		if first {
			// Presence persistence is fire-and-forget relative to the
			// handshake; a store hiccup must not fail the connection.
			go h.announcePresence(userID, true)
		}

		defer func() {
			// Remove from the registry before any further routing for
			// this session can be attempted, then announce.
			last, uid, ok := h.hub.Unregister(sess.ID)
			h.router.ClearTyping(userID)
			sess.Close()
			if ok && last {
				go h.announcePresence(uid, false)
			}
		}()

		c.SetReadLimit(maxFrameSize)
		_ = c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			msgType, raw, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("ws read: %v", err)
				}
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}

			var env models.WSMessage
			if err := utils.SafeJSONParse(raw, &env); err != nil {
				utils.LogError(err, "WS Parse")
				continue
			}
			h.dispatch(context.Background(), sess, &env)
		}
	})
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, env *models.WSMessage) {
	switch env.Event {
	case models.EventJoinChat:
		h.handleJoin(ctx, sess, env)
	case models.EventLeaveChat:
		h.hub.Leave(env.ChatID, sess.ID)
		sess.Send(map[string]interface{}{"event": models.EventLeftChat, "chat_id": env.ChatID})
	case models.EventSendMessage:
		h.handleSend(ctx, sess, env)
	case models.EventTypingStart, models.EventTypingStop:
		h.handleTyping(ctx, sess, env)
	case models.EventMarkMessageRead:
		h.handleMarkRead(ctx, sess, env)
	case models.EventDeleteMessage:
		h.handleDelete(ctx, sess, env)
	default:
		log.Printf("Unknown event: %s", env.Event)
	}
}

func (h *Handler) handleJoin(ctx context.Context, sess *Session, env *models.WSMessage) {
	chat, err := h.authorizeChat(ctx, sess.UserID, env.ChatID)
	if err != nil {
		h.sendError(sess, err)
		return
	}
	h.hub.Join(chat.ID, sess.ID)
	sess.Send(map[string]interface{}{"event": models.EventJoinedChat, "chat_id": chat.ID})
}

func (h *Handler) handleSend(ctx context.Context, sess *Session, env *models.WSMessage) {
	view, chat, err := h.messages.Send(ctx, sess.UserID, env.ReceiverID, env.Content, models.MessageType(env.Type))
	if err != nil {
		h.sendError(sess, err)
		return
	}
	h.router.DeliverMessage(view, chat)
}

func (h *Handler) handleTyping(ctx context.Context, sess *Session, env *models.WSMessage) {
	chat, err := h.authorizeChat(ctx, sess.UserID, env.ChatID)
	if err != nil {
		// Best-effort events: a bad chat reference is dropped silently.
		return
	}
	receiverID := chat.Other(sess.UserID)
	if env.ReceiverID != 0 && env.ReceiverID != receiverID {
		return
	}
	if env.Event == models.EventTypingStart {
		h.router.DeliverTypingStart(chat.ID, sess.UserID, sess.Username, receiverID)
	} else {
		h.router.DeliverTypingStop(chat.ID, sess.UserID, sess.Username, receiverID)
	}
}

func (h *Handler) handleMarkRead(ctx context.Context, sess *Session, env *models.WSMessage) {
	msg, err := h.messages.MarkRead(ctx, env.MessageID, sess.UserID)
	if err != nil {
		// The message may have been deleted by its sender concurrently;
		// that is a benign no-op, not an error to report.
		if !errors.Is(err, store.ErrNotFound) {
			h.sendError(sess, err)
		}
		return
	}
	h.router.DeliverRead(msg)
}

func (h *Handler) handleDelete(ctx context.Context, sess *Session, env *models.WSMessage) {
	msg, err := h.messages.Delete(ctx, env.MessageID, sess.UserID)
	if err != nil {
		h.sendError(sess, err)
		return
	}
	chat, err := h.chats.Get(ctx, msg.ChatID)
	if err != nil {
		utils.LogError(err, "Delete Chat Lookup")
		return
	}
	h.router.DeliverDeleted(msg, chat)
}

// authorizeChat loads a chat and verifies the caller participates in it
// and that it is still active.
func (h *Handler) authorizeChat(ctx context.Context, userID int, chatID string) (*models.Chat, error) {
	if chatID == "" {
		return nil, store.ErrNotFound
	}
	chat, err := h.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.Active || !chat.HasParticipant(userID) {
		return nil, services.ErrNotAuthorized
	}
	return chat, nil
}

func (h *Handler) sendError(sess *Session, err error) {
	payload := map[string]interface{}{"event": models.EventError}

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		payload["errors"] = verr.Fields
	case errors.Is(err, services.ErrNotAuthorized):
		payload["error"] = "not authorized"
	case errors.Is(err, store.ErrNotFound):
		payload["error"] = "not found"
	default:
		utils.LogError(err, "WS Dispatch")
		payload["error"] = "internal error"
	}
	sess.Send(payload)
}

// announcePresence persists the online/offline transition, mirrors it
// into the presence cache and broadcasts it to all other sessions.
func (h *Handler) announcePresence(userID int, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.users.SetPresence(ctx, userID, online); err != nil {
		utils.LogError(err, "SetPresence")
	}
	if online {
		h.presence.SetOnline(ctx, userID)
	} else {
		h.presence.SetOffline(ctx, userID, time.Now().UTC())
	}

	user, err := h.users.GetProfile(ctx, userID)
	if err != nil {
		utils.LogError(err, "Presence Profile")
		return
	}
	h.router.DeliverPresence(user, online)
}
