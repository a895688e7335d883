package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/poolshare/backend/internal/config"
	"github.com/poolshare/backend/internal/database"
	"github.com/poolshare/backend/internal/handlers"
	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/invitetoken"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	remote := storage.NewGateway(cfg.SFTP)

	accessService := services.NewAccessService(db)
	userService := services.NewUserService(db)
	tokenService := invitetoken.NewService(cfg.JWT.Secret, cfg.JWT.InvitationTTL)
	invitationService := services.NewInvitationService(db, tokenService, userService, accessService)

	authHandler := handlers.NewAuthHandler(db)
	usersHandler := handlers.NewUsersHandler(db, accessService)
	poolsHandler := handlers.NewPoolsHandler(db, accessService, invitationService, remote)
	filesHandler := handlers.NewFilesHandler(db, accessService, remote)
	accessesHandler := handlers.NewAccessesHandler(db, accessService)
	publicHandler := handlers.NewPublicHandler(db, invitationService, remote)

	authMiddleware := middleware.NewAuthMiddleware(db, userService)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	publicRoutes := api.Group("/public")
	publicRoutes.Get("/pools", publicHandler.ListPools)
	publicRoutes.Get("/pools/:id", publicHandler.GetPool)
	publicRoutes.Get("/pools/:id/files", publicHandler.PoolFiles)
	publicRoutes.Get("/files/:id/download", publicHandler.Download)
	publicRoutes.Get("/files/:id/preview", publicHandler.Preview)

	api.Get("/invitations/validate/:token", publicHandler.ValidateInvitation)
	api.Post("/invitations/accept", authMiddleware.RequireAuth, publicHandler.AcceptInvitation)

	poolRoutes := api.Group("/pools", authMiddleware.RequireAuth)
	poolRoutes.Get("/", poolsHandler.List)
	poolRoutes.Post("/", poolsHandler.Create)
	poolRoutes.Post("/invitations/token", poolsHandler.GenerateInvitation)
	poolRoutes.Get("/:id", poolsHandler.Get)
	poolRoutes.Put("/:id", poolsHandler.Update)
	poolRoutes.Delete("/:id", poolsHandler.Delete)
	poolRoutes.Get("/:id/users", poolsHandler.Members)
	poolRoutes.Get("/:id/users/count", poolsHandler.MemberCount)
	poolRoutes.Get("/:id/files", poolsHandler.Files)
	poolRoutes.Get("/:id/stats", poolsHandler.Stats)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Get("/:id/preview", filesHandler.Preview)
	fileRoutes.Get("/:id/uploader", filesHandler.Uploader)
	fileRoutes.Get("/:id/pool", filesHandler.Pool)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Put("/:id", filesHandler.Update)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	accessRoutes := api.Group("/accesses", authMiddleware.RequireAuth)
	accessRoutes.Get("/", middleware.AdminOnly, accessesHandler.List)
	accessRoutes.Post("/", accessesHandler.Create)
	accessRoutes.Get("/:id", accessesHandler.Get)
	accessRoutes.Put("/:id", accessesHandler.Update)
	accessRoutes.Delete("/:id", accessesHandler.Delete)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth)
	userRoutes.Get("/", middleware.AdminOnly, usersHandler.List)
	userRoutes.Get("/count", middleware.AdminOnly, usersHandler.Count)
	userRoutes.Get("/role/:role", middleware.AdminOnly, usersHandler.ByRole)
	userRoutes.Get("/email/:email", usersHandler.GetByEmail)
	userRoutes.Get("/:id/pools", usersHandler.Pools)
	userRoutes.Get("/:id/pools/count", usersHandler.PoolCount)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
