package handlers

import (
	"dm-backend/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ReconcileHandler triggers the reconciliation sweep on demand. The
// sweep is idempotent, so invoking it repeatedly is safe.
func ReconcileHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := chatService.Reconcile(c.Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	}
}
