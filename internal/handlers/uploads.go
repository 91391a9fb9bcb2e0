package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dm-backend/internal/utils"

	"github.com/gofiber/fiber/v2"
)

var allowedUploadTypes = map[string]bool{
	"image/jpeg":               true,
	"image/png":                true,
	"image/gif":                true,
	"image/webp":               true,
	"application/pdf":          true,
	"application/zip":          true,
	"application/octet-stream": true,
	"text/plain":               true,
}

// UploadHandler stores a file for use as an image/file message. It
// returns the URL the client then submits as the message content.
func UploadHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
		}

		contentType := fileHeader.Header.Get("Content-Type")
		if !allowedUploadTypes[contentType] && !strings.HasPrefix(contentType, "image/") {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "unsupported file type"})
		}

		uploadDir := utils.GetEnv("UPLOAD_DIR", "uploads")
		if err := os.MkdirAll(filepath.Join(uploadDir, "files"), 0755); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create upload dir"})
		}

		ext := filepath.Ext(fileHeader.Filename)
		filename := fmt.Sprintf("%d_%d%s", userID, time.Now().UnixNano(), ext)
		destPath := filepath.Join(uploadDir, "files", filename)

		if err := c.SaveFile(fileHeader, destPath); err != nil {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save file"})
		}

		messageType := "file"
		if strings.HasPrefix(contentType, "image/") {
			messageType = "image"
		}

		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"url":  buildUploadURL(c, "files/"+filename),
			"type": messageType,
		})
	}
}
