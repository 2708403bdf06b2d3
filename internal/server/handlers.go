package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"postpilot/internal/cache"
	"postpilot/internal/channel"
	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/repository"
)

func (s *Server) handleLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleReadiness(c *fiber.Ctx) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewInternalError(err))
	}
	if err := sqlDB.PingContext(c.UserContext()); err != nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

type postListResponse struct {
	Posts []models.Post `json:"posts"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
}

func (s *Server) handleListPosts(c *fiber.Ctx) error {
	status := c.Query("status")
	platform := c.Query("platform")
	page := c.QueryInt("page", 1)

	key := cache.PostListKey(status, platform, page)
	resp, err := cache.Aside(c.UserContext(), key, cache.PostListTTL, func() (postListResponse, error) {
		posts, total, err := s.posts.List(c.UserContext(), repository.PostFilter{
			Status:   models.PostStatus(status),
			Platform: models.Platform(platform),
			Page:     page,
		})
		if err != nil {
			return postListResponse{}, err
		}
		return postListResponse{Posts: posts, Total: total, Page: page}, nil
	})
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(resp)
}

func (s *Server) handleGetPost(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("invalid post id"))
	}

	post, err := cache.Aside(c.UserContext(), cache.PostKey(uint(id)), cache.PostTTL, func() (*models.Post, error) {
		return s.posts.GetByID(c.UserContext(), uint(id))
	})
	if err != nil {
		if appErr, ok := err.(*models.AppError); ok && appErr.Code == "NOT_FOUND" {
			return models.RespondWithError(c, fiber.StatusNotFound, appErr)
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(post)
}

// handleActionLink settles an approval via a signed one-click link.
func (s *Server) handleActionLink(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("missing token"))
	}

	if err := s.gateway.HandleActionToken(c.UserContext(), token, "web:"+c.IP()); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	}
	return c.SendString("Decision recorded. You can close this page.")
}

func (s *Server) handleListFlags(c *fiber.Ctx) error {
	return c.JSON(s.flags.All())
}

// handleTelegramWebhook ingests channel updates. The channel expects a fast
// acknowledgment no matter what, so decoding failures are logged and absorbed
// and the event is processed off the request path by a bounded worker.
func (s *Server) handleTelegramWebhook(c *fiber.Ctx) error {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	select {
	case s.webhookJobs <- body:
	default:
		middleware.Logger.Warn("webhook queue full, dropping update")
	}
	return c.SendStatus(fiber.StatusOK)
}

// startWebhookWorker drains the webhook queue one update at a time, keeping a
// redelivery burst from fanning out into unbounded goroutines.
func (s *Server) startWebhookWorker() {
	s.webhookJobs = make(chan []byte, webhookQueueCap)
	go func() {
		for body := range s.webhookJobs {
			s.processWebhookUpdate(body)
		}
	}()
}

func (s *Server) processWebhookUpdate(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ev, err := channel.ParseUpdate(body)
	if err != nil {
		middleware.Logger.Warn("unparseable telegram update", slog.String("error", err.Error()))
		return
	}
	s.gateway.HandleInboundEvent(ctx, ev)
}
