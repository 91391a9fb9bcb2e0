package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dm-backend/internal/services"
	"dm-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// GetProfileHandler returns the authenticated user's profile
func GetProfileHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		u, err := userService.GetProfile(c.Context(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(u)
	}
}

// UpdateProfileHandler renames the authenticated user
func UpdateProfileHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var body struct {
			Username string `json:"username"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}

		user, err := userService.UpdateProfile(c.Context(), userID, body.Username)
		if err != nil {
			if errors.Is(err, services.ErrUserExists) {
				return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "username already exists"})
			}
			return respondError(c, err)
		}
		return c.JSON(user)
	}
}

// UploadAvatarHandler replaces the authenticated user's avatar
func UploadAvatarHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		// Expect a multipart form file named "avatar"
		fileHeader, err := c.FormFile("avatar")
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "avatar file is required"})
		}

		uploadDir := utils.GetEnv("UPLOAD_DIR", "uploads")
		if err := os.MkdirAll(filepath.Join(uploadDir, "avatars"), 0755); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create upload dir"})
		}

		// Generate unique filename preserving extension
		ext := filepath.Ext(fileHeader.Filename)
		filename := fmt.Sprintf("%d_%d%s", userID, time.Now().UnixNano(), ext)
		destPath := filepath.Join(uploadDir, "avatars", filename)

		if err := c.SaveFile(fileHeader, destPath); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save file"})
		}

		url := buildUploadURL(c, "avatars/"+filename)
		user, err := userService.UpdateAvatar(c.Context(), userID, url)
		if err != nil {
			// Try to cleanup file if the store write fails
			_ = os.Remove(destPath)
			return respondError(c, err)
		}

		return c.JSON(user)
	}
}

// buildUploadURL constructs an absolute URL for an uploaded file based on request host
func buildUploadURL(c *fiber.Ctx, relPath string) string {
	baseURL := utils.GetEnv("BASE_URL", "")
	if baseURL != "" {
		return fmt.Sprintf("%s/uploads/%s", baseURL, relPath)
	}

	protocol := "http"
	if c.Protocol() == "https" || c.Get("X-Forwarded-Proto") == "https" {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/uploads/%s", protocol, c.Hostname(), relPath)
}
