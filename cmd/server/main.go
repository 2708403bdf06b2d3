package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postpilot/internal/cache"
	"postpilot/internal/channel"
	"postpilot/internal/config"
	"postpilot/internal/database"
	"postpilot/internal/featureflags"
	"postpilot/internal/generator"
	"postpilot/internal/middleware"
	"postpilot/internal/observability"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
	"postpilot/internal/scheduler"
	"postpilot/internal/server"
	"postpilot/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "postpilot",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		middleware.Logger.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := database.Connect(cfg); err != nil {
		middleware.Logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Redis is optional; reads degrade to the database when it is down.
	_ = cache.InitRedis(cfg.RedisURL)

	flags := featureflags.NewManager(cfg.FeatureFlags)

	posts := repository.NewPostRepository(database.DB)
	approvals := repository.NewApprovalRepository(database.DB)
	contents := repository.NewContentRepository(database.DB)
	users := repository.NewUserRepository(database.DB)
	credentialRepo := repository.NewCredentialRepository(database.DB)

	credentials := service.NewCredentialService(credentialRepo, service.NewOAuthRefresher(cfg))

	telegram := channel.NewTelegramChannel(cfg.TelegramBotToken)
	tokens := service.NewActionTokenCodec(cfg.ActionTokenSecret)

	var msgChannel service.MessageChannel
	if telegram.Enabled() {
		msgChannel = telegram

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if bot, err := telegram.GetMe(ctx); err != nil {
			middleware.Logger.Warn("telegram bot token check failed", slog.String("error", err.Error()))
		} else {
			middleware.Logger.Info("telegram bot connected", slog.String("bot", bot))
		}
		cancel()
	} else {
		middleware.Logger.Warn("telegram bot token not configured, approvals fall back to auto-approve")
	}

	gateway := service.NewApprovalGateway(approvals, posts, msgChannel, tokens, cfg.PublicBaseURL, cfg.ApprovalWindow)

	orch := service.NewOrchestrator(
		posts, approvals, contents, users,
		credentials,
		[]platform.Publisher{
			platform.NewTwitterPublisher(),
			platform.NewLinkedInPublisher(),
		},
		generator.NewTemplateGenerator(),
		gateway,
		flags,
		service.OrchestratorConfig{
			ApprovalWindow:     cfg.ApprovalWindow,
			PublishHours:       cfg.PublishHours,
			PublishWorkers:     cfg.PublishWorkers,
			MaxPublishAttempts: cfg.MaxPublishAttempts,
			RetryBaseDelay:     cfg.RetryBaseDelay,
			RetentionDays:      cfg.RetentionDays,
		},
	)
	gateway.SetResolver(orch)

	sched := scheduler.New(
		scheduler.Trigger{Name: "generate", Interval: cfg.GenerateInterval, Run: orch.GenerateFromContent},
		scheduler.Trigger{Name: "publish", Interval: cfg.PublishInterval, Run: orch.PublishDueBatch, RunAtStart: true},
		scheduler.Trigger{Name: "expire", Interval: cfg.ExpireInterval, Run: orch.ExpireStalePendingApprovals, RunAtStart: true},
		scheduler.Trigger{Name: "cleanup", Interval: cfg.CleanupInterval, Run: orch.CleanupOldData},
	)
	sched.Start(context.Background())

	srv := server.New(cfg, database.DB, posts, gateway, flags)

	if telegram.Enabled() && cfg.PublicBaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := telegram.SetWebhook(ctx, cfg.PublicBaseURL+"/webhook/telegram", cfg.TelegramWebhookSecret); err != nil {
			middleware.Logger.Warn("failed to register telegram webhook", slog.String("error", err.Error()))
		}
		if info, err := telegram.GetWebhookInfo(ctx); err == nil {
			middleware.Logger.Info("telegram webhook registered",
				slog.String("url", info.URL),
				slog.Int("pending_updates", info.PendingUpdateCount),
				slog.String("last_error", info.LastErrorMessage))
		}
		cancel()
	}

	go func() {
		middleware.Logger.Info("server starting", slog.String("port", cfg.Port), slog.String("env", cfg.Env))
		if err := srv.Listen(); err != nil {
			middleware.Logger.Error("server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	middleware.Logger.Info("shutting down")
	sched.Stop()

	if telegram.Enabled() && cfg.PublicBaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := telegram.DeleteWebhook(ctx); err != nil {
			middleware.Logger.Warn("failed to deregister telegram webhook", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := srv.Shutdown(); err != nil {
		middleware.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	if err := cache.Close(); err != nil {
		middleware.Logger.Warn("redis close failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		middleware.Logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("shutdown complete")
}
