package handlers

import (
	"net/http"

	"dm-backend/internal/models"
	"dm-backend/internal/services"
	"dm-backend/internal/ws"

	"github.com/gofiber/fiber/v2"
)

// ListChatsHandler returns the caller's chat list, deduplicated by
// counterpart and most-recent-first, with live status per counterpart.
func ListChatsHandler(chatService *services.ChatService, hub *ws.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		items, err := chatService.ListForUser(c.Context(), userID)
		if err != nil {
			return respondError(c, err)
		}

		for i := range items {
			if hub.IsOnline(items[i].OtherUser.ID) {
				items[i].OtherUserStatus = "online"
			} else {
				items[i].OtherUserStatus = "offline"
			}
		}
		return c.JSON(items)
	}
}

// CreateChatHandler resolves (or creates) the chat with a recipient.
func CreateChatHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.CreateChatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		if req.RecipientID == 0 {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"errors": []services.FieldError{{Field: "recipient_id", Message: "required"}},
			})
		}

		chat, outcome, err := chatService.Resolve(c.Context(), userID, req.RecipientID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"chat_id": chat.ID,
			"is_new":  outcome == services.ResolveCreated,
		})
	}
}

// HistoryHandler returns a chat's message history, oldest first.
func HistoryHandler(messageService *services.MessageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		chatID := c.Params("chat_id")

		limit := c.QueryInt("limit", 50)
		offset := c.QueryInt("offset", 0)

		messages, err := messageService.History(c.Context(), chatID, userID, limit, offset)
		if err != nil {
			return respondError(c, err)
		}
		if messages == nil {
			messages = []models.Message{}
		}
		return c.JSON(messages)
	}
}
