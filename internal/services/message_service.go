package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"

	"github.com/google/uuid"
)

const maxContentLen = 4096

type MessageService struct {
	st    store.Store
	chats *ChatService
}

func NewMessageService(st store.Store, chats *ChatService) *MessageService {
	return &MessageService{st: st, chats: chats}
}

// Send validates the receiver, resolves the canonical chat, persists the
// message, advances the chat's last-message pointer and returns the
// profile-joined view for delivery.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID int, content string, mtype models.MessageType) (*models.MessageView, *models.Chat, error) {
	if content == "" {
		return nil, nil, invalid("content", "required")
	}
	if len(content) > maxContentLen {
		return nil, nil, invalid("content", "too long")
	}
	if mtype == "" {
		mtype = models.MessageText
	}
	if !mtype.Valid() {
		return nil, nil, invalid("type", "must be text, image or file")
	}

	sender, err := s.st.UserByID(ctx, senderID)
	if err != nil {
		return nil, nil, resolveUserErr("sender_id", err)
	}
	receiver, err := s.st.UserByID(ctx, receiverID)
	if err != nil {
		return nil, nil, resolveUserErr("receiver_id", err)
	}

	chat, _, err := s.chats.Resolve(ctx, senderID, receiverID)
	if err != nil {
		return nil, nil, err
	}

	msg := &models.Message{
		ID:         uuid.New().String(),
		ChatID:     chat.ID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       mtype,
	}
	if err := s.st.CreateMessage(ctx, msg); err != nil {
		return nil, nil, err
	}

	if err := s.st.AdvanceChatLastMessage(ctx, chat.ID, msg.ID, msg.CreatedAt); err != nil {
		return nil, nil, err
	}
	chat.LastMessageID = msg.ID
	chat.LastMessageAt = msg.CreatedAt

	view := &models.MessageView{
		Message:  *msg,
		Sender:   sender.Info(),
		Receiver: receiver.Info(),
	}
	return view, chat, nil
}

// MarkRead sets the read flag and timestamp. Marking twice is a no-op
// returning the same state; a concurrently deleted message surfaces as
// store.ErrNotFound, which callers treat as benign.
func (s *MessageService) MarkRead(ctx context.Context, messageID string, readerID int) (*models.Message, error) {
	msg, err := s.st.MessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != readerID {
		return nil, ErrNotAuthorized
	}
	if msg.Read {
		return msg, nil
	}
	return s.st.MarkMessageRead(ctx, messageID, time.Now().UTC())
}

// Delete removes a message; only the original sender may do so. If the
// deleted message was the chat's recorded last message the pointer is
// recomputed from the surviving messages.
func (s *MessageService) Delete(ctx context.Context, messageID string, requesterID int) (*models.Message, error) {
	msg, err := s.st.MessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, ErrNotAuthorized
	}

	if err := s.st.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Already gone; still recompute in case the pointer references it.
			err = nil
		} else {
			return nil, err
		}
	}

	if err := refreshLastMessage(ctx, s.st, msg.ChatID, messageID); err != nil {
		return nil, err
	}
	removeAttachment(msg)
	return msg, nil
}

// removeAttachment deletes the uploaded file backing an image/file
// message. Best-effort: a failure is logged and the logical deletion
// stands.
func removeAttachment(msg *models.Message) {
	if msg.Type == models.MessageText {
		return
	}
	idx := strings.Index(msg.Content, "/uploads/")
	if idx < 0 {
		return
	}
	rel := msg.Content[idx+len("/uploads/"):]
	if rel == "" || strings.Contains(rel, "..") {
		return
	}
	path := filepath.Join(utils.GetEnv("UPLOAD_DIR", "uploads"), filepath.FromSlash(rel))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		utils.LogError(err, "Remove Attachment")
	}
}

// History returns the most recent limit messages of a chat, oldest first.
// The requester must be a participant.
func (s *MessageService) History(ctx context.Context, chatID string, requesterID, limit, offset int) ([]models.Message, error) {
	chat, err := s.st.ChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(requesterID) {
		return nil, ErrNotAuthorized
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.st.MessagesForChat(ctx, chatID, limit, offset)
}

// refreshLastMessage is the single recomputation routine for the
// denormalized last-message pointer, invoked from every path that can
// invalidate it (delete, and the sweep's duplicate merge). It re-queries
// the most recent surviving message and swaps the pointer only while it
// still references replacedID; if a concurrent send advanced the pointer
// in the meantime the swap is skipped, which is already the desired end
// state.
func refreshLastMessage(ctx context.Context, st store.Store, chatID, replacedID string) error {
	chat, err := st.ChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.LastMessageID != replacedID {
		return nil
	}

	latest, err := st.LatestMessage(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		_, err = st.SwapChatLastMessage(ctx, chatID, replacedID, "", time.Time{})
		return err
	}
	if err != nil {
		return err
	}
	_, err = st.SwapChatLastMessage(ctx, chatID, replacedID, latest.ID, latest.CreatedAt)
	return err
}
