package handlers

import (
	"errors"
	"net/http"

	"dm-backend/internal/models"
	"dm-backend/internal/services"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"
	"dm-backend/internal/ws"

	"github.com/gofiber/fiber/v2"
)

// SendMessageHandler is the request/response submit path. It shares the
// lifecycle manager with the live-connection path, so connected
// recipients still get their delivery events.
func SendMessageHandler(messageService *services.MessageService, router *ws.Router) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}

		view, chat, err := messageService.Send(c.Context(), userID, req.ReceiverID, req.Content, models.MessageType(req.Type))
		if err != nil {
			return respondError(c, err)
		}

		router.DeliverMessage(view, chat)
		return c.Status(http.StatusCreated).JSON(view)
	}
}

// MarkReadHandler marks a message read. A message that vanished under a
// concurrent delete is a benign no-op, not an error.
func MarkReadHandler(messageService *services.MessageService, router *ws.Router) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		messageID := c.Params("message_id")

		msg, err := messageService.MarkRead(c.Context(), messageID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.SendStatus(http.StatusNoContent)
			}
			return respondError(c, err)
		}

		router.DeliverRead(msg)
		return c.JSON(msg)
	}
}

// DeleteMessageHandler deletes a message (sender only) and announces the
// deletion to live participants.
func DeleteMessageHandler(messageService *services.MessageService, chatService *services.ChatService, router *ws.Router) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		messageID := c.Params("message_id")

		msg, err := messageService.Delete(c.Context(), messageID, userID)
		if err != nil {
			return respondError(c, err)
		}

		if chat, err := chatService.Get(c.Context(), msg.ChatID); err == nil {
			router.DeliverDeleted(msg, chat)
		} else {
			utils.LogError(err, "Delete Chat Lookup")
		}
		return c.SendStatus(http.StatusNoContent)
	}
}
