package app

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm-backend/internal/db"
	"dm-backend/internal/handlers"
	"dm-backend/internal/models"
	"dm-backend/internal/presence"
	"dm-backend/internal/services"
	"dm-backend/internal/store"
	"dm-backend/internal/utils"
	"dm-backend/internal/ws"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func Run() {
	// Load Env
	if err := utils.LoadEnv(); err != nil {
		log.Println("Warning: .env file not found")
	}

	// Init Store
	var st store.Store
	if utils.GetEnv("STORE_DRIVER", "postgres") == "memory" {
		log.Println("Using in-memory store")
		st = store.NewMemory()
	} else {
		connString := utils.GetEnv("DATABASE_URL", "")
		if connString == "" {
			// Fallback to individual vars
			connString = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
				utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
				utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
				utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
				utils.GetEnv("POSTGRES_DB", "chatdb") + "?sslmode=disable"
		}

		if err := db.InitDB(connString); err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.CloseDB()
		st = store.NewPostgres(db.Pool)
	}

	// Presence mirror (optional)
	cache := presence.New(utils.GetEnv("REDIS_ADDR", ""))
	defer cache.Close()

	// Services
	userService := services.NewUserService(st)
	chatService := services.NewChatService(st)
	messageService := services.NewMessageService(st, chatService)

	// WebSocket plane
	hub := ws.NewHub()
	router := ws.NewRouter(hub)
	wsHandler := ws.NewHandler(hub, router, userService, chatService, messageService, cache)

	// Fiber App
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	// Ensure upload dir exists and serve uploaded files
	uploadDir := utils.GetEnv("UPLOAD_DIR", "uploads")
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		log.Printf("Warning: failed to create upload dir: %v", err)
	}
	app.Static("/uploads", uploadDir)

	// Routes
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
		}
		user, err := userService.Register(c.Context(), req)
		if err != nil {
			if errors.Is(err, services.ErrUserExists) {
				return c.Status(400).JSON(fiber.Map{"error": "username already exists"})
			}
			var verr *services.ValidationError
			if errors.As(err, &verr) {
				return c.Status(400).JSON(fiber.Map{"errors": verr.Fields})
			}
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(user)
	})

	api.Post("/login", func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
		}
		res, err := userService.Login(c.Context(), req)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	// Refresh token endpoint
	api.Post("/refresh", func(c *fiber.Ctx) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
		}
		if body.RefreshToken == "" {
			return c.Status(400).JSON(fiber.Map{"error": "refresh_token required"})
		}

		claims, err := services.ValidateRefreshToken(body.RefreshToken)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid refresh token"})
		}

		userIDf, ok := claims["user_id"].(float64)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token claims"})
		}
		username, ok := claims["username"].(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token claims"})
		}

		userID := int(userIDf)

		access, err := services.GenerateJWT(userID, username)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to generate access token"})
		}
		refresh, err := services.GenerateRefreshToken(userID, username)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to generate refresh token"})
		}

		return c.JSON(fiber.Map{
			"access_token":  access,
			"refresh_token": refresh,
		})
	})

	// Protected Routes
	protected := api.Group("/")
	protected.Use(handlers.AuthMiddleware)

	// List users (excluding the caller). Returns online status per user.
	protected.Get("/users", func(c *fiber.Ctx) error {
		authUserID := c.Locals("user_id").(int)

		users, err := userService.ListUsers(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to fetch users"})
		}

		var resp []map[string]interface{}
		for _, u := range users {
			if u.ID == authUserID {
				continue
			}
			status := "offline"
			if hub.IsOnline(u.ID) {
				status = "online"
			}
			resp = append(resp, map[string]interface{}{
				"id":        u.ID,
				"username":  u.Username,
				"avatar":    u.Avatar,
				"last_seen": u.LastSeen,
				"status":    status,
			})
		}

		return c.JSON(resp)
	})

	// Chat Routes
	protected.Get("/chats", handlers.ListChatsHandler(chatService, hub))
	protected.Post("/chats", handlers.CreateChatHandler(chatService))
	protected.Get("/chats/:chat_id/messages", handlers.HistoryHandler(messageService))

	// Message Routes (request/response surface for non-connected clients)
	protected.Post("/messages", handlers.SendMessageHandler(messageService, router))
	protected.Post("/messages/:message_id/read", handlers.MarkReadHandler(messageService, router))
	protected.Delete("/messages/:message_id", handlers.DeleteMessageHandler(messageService, chatService, router))

	// Profile and uploads
	protected.Get("/profile", handlers.GetProfileHandler(userService))
	protected.Put("/profile", handlers.UpdateProfileHandler(userService))
	protected.Put("/profile/avatar", handlers.UploadAvatarHandler(userService))
	protected.Post("/uploads", handlers.UploadHandler())

	// Maintenance
	protected.Post("/maintenance/reconcile", handlers.ReconcileHandler(chatService))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// WebSocket Route
	// Note: Middleware order matters. WSUpgradeMiddleware checks if it's
	// a WS request, AuthMiddleware checks the token.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware)
	app.Get("/ws", wsHandler.Serve())

	// Scheduled reconciliation sweep (0 disables it)
	sweepStop := make(chan struct{})
	if interval := utils.GetEnvInt("SWEEP_INTERVAL_MINUTES", 0); interval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(interval) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if report, err := chatService.Reconcile(context.Background()); err != nil {
						utils.LogError(err, "Sweep")
					} else if report.Orphaned > 0 || report.Merged > 0 {
						log.Printf("sweep: %d orphaned, %d merged", report.Orphaned, report.Merged)
					}
				case <-sweepStop:
					return
				}
			}
		}()
	}

	// Start Server
	port := utils.GetEnv("PORT", "3001")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Panic(err)
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c // Block until signal
	log.Println("Gracefully shutting down...")
	close(sweepStop)
	_ = app.Shutdown()
	log.Println("Server shutdown complete")
}
