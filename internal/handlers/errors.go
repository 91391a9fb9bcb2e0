package handlers

import (
	"errors"
	"net/http"

	"dm-backend/internal/services"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors to HTTP statuses: validation 400
// with a per-field list, authorization 403, missing entities 404,
// anything else a logged 500.
func respondError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"errors": verr.Fields})
	case errors.Is(err, services.ErrSelfChat):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotAuthorized):
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"error": "not authorized"})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	default:
		utils.LogError(err, "HTTP")
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
