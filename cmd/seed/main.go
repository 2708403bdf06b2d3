// Command seed populates the development database with demo users,
// credentials, and content items.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"postpilot/internal/config"
	"postpilot/internal/database"
	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/repository"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		middleware.Logger.Error("refusing to seed a production database")
		os.Exit(1)
	}

	if err := database.Connect(cfg); err != nil {
		middleware.Logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	users := repository.NewUserRepository(database.DB)
	creds := repository.NewCredentialRepository(database.DB)
	contents := repository.NewContentRepository(database.DB)

	gofakeit.Seed(42)

	for i := 0; i < 3; i++ {
		user := &models.User{
			Email:          gofakeit.Email(),
			TelegramChatID: fmt.Sprintf("%d", gofakeit.Number(100000000, 999999999)),
			AutoPublish:    i == 0,
		}
		if err := users.Create(ctx, user); err != nil {
			middleware.Logger.Error("failed to create user", slog.String("error", err.Error()))
			os.Exit(1)
		}

		for _, platform := range []models.Platform{models.PlatformTwitter, models.PlatformLinkedIn} {
			cred := &models.PlatformCredential{
				UserID:        user.ID,
				Platform:      platform,
				AccessToken:   gofakeit.UUID(),
				RefreshToken:  gofakeit.UUID(),
				ExpiresAt:     time.Now().Add(2 * time.Hour),
				AccountRef:    gofakeit.UUID(),
				AccountHandle: gofakeit.Username(),
			}
			if err := creds.Upsert(ctx, cred); err != nil {
				middleware.Logger.Error("failed to create credential", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}

		for j := 0; j < 4; j++ {
			item := &models.ContentItem{
				UserID:         user.ID,
				Title:          gofakeit.Sentence(6),
				URL:            gofakeit.URL(),
				Summary:        gofakeit.Paragraph(1, 3, 12, " "),
				RelevanceScore: gofakeit.Number(40, 100),
				FetchedAt:      time.Now().Add(-time.Duration(gofakeit.Number(1, 48)) * time.Hour),
			}
			if err := contents.Create(ctx, item); err != nil {
				middleware.Logger.Error("failed to create content item", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}

		middleware.Logger.Info("seeded user",
			slog.String("email", user.Email),
			slog.Bool("auto_publish", user.AutoPublish))
	}

	middleware.Logger.Info("seeding complete")
}
