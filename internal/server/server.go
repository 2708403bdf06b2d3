// Package server provides the HTTP surface: webhook ingestion, health and
// metrics endpoints, and the read-only post queue API.
package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"gorm.io/gorm"

	"postpilot/internal/config"
	"postpilot/internal/featureflags"
	"postpilot/internal/middleware"
	"postpilot/internal/repository"
	"postpilot/internal/service"
)

// webhookQueueCap bounds buffered webhook deliveries awaiting processing.
// A burst beyond it is dropped; Telegram redelivers on its own schedule.
const webhookQueueCap = 64

// Server wires the fiber app with its dependencies.
type Server struct {
	App         *fiber.App
	cfg         *config.Config
	db          *gorm.DB
	posts       repository.PostRepository
	gateway     *service.ApprovalGateway
	flags       *featureflags.Manager
	webhookJobs chan []byte
}

// New creates the HTTP server with explicit dependencies.
func New(
	cfg *config.Config,
	db *gorm.DB,
	posts repository.PostRepository,
	gateway *service.ApprovalGateway,
	flags *featureflags.Manager,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "postpilot",
		DisableStartupMessage: cfg.Env == "production",
	})

	s := &Server{
		App:     app,
		cfg:     cfg,
		db:      db,
		posts:   posts,
		gateway: gateway,
		flags:   flags,
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.startWebhookWorker()
	return s
}

func (s *Server) setupMiddleware() {
	s.App.Use(recover.New())
	s.App.Use(requestid.New())
	s.App.Use(middleware.ContextMiddleware())
	s.App.Use(middleware.StructuredLogger())

	prometheus := middleware.InitMetrics("postpilot")
	prometheus.RegisterAt(s.App, "/metrics")
	s.App.Use(prometheus.Middleware)
}

func (s *Server) setupRoutes() {
	s.App.Get("/health/live", s.handleLiveness)
	s.App.Get("/health/ready", s.handleReadiness)

	api := s.App.Group("/api")
	api.Get("/posts", s.handleListPosts)
	api.Get("/posts/:id", s.handleGetPost)
	api.Get("/approvals/act", s.handleActionLink)
	api.Get("/flags", s.handleListFlags)

	s.App.Post("/webhook/telegram",
		middleware.WebhookSecret(s.cfg.TelegramWebhookSecret),
		s.handleTelegramWebhook)
}

// Listen starts serving on the configured port.
func (s *Server) Listen() error {
	return s.App.Listen(":" + s.cfg.Port)
}

// Shutdown gracefully stops the server. The webhook queue closes after the
// last in-flight handler returns, letting the worker drain what it holds.
func (s *Server) Shutdown() error {
	err := s.App.Shutdown()
	close(s.webhookJobs)
	return err
}
