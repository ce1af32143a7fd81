package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disblox/disblox-api/internal/auth"
	"github.com/disblox/disblox-api/internal/bot"
	"github.com/disblox/disblox-api/internal/cache"
	"github.com/disblox/disblox-api/internal/config"
	"github.com/disblox/disblox-api/internal/database"
	"github.com/disblox/disblox-api/internal/handlers"
	"github.com/disblox/disblox-api/internal/logging"
	"github.com/disblox/disblox-api/internal/notifier"
	"github.com/disblox/disblox-api/internal/ratelimit"
	"github.com/disblox/disblox-api/internal/roblox"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "disblox: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Connect to Database
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}

	store := cache.NewStore()
	robloxClient := roblox.NewClient(roblox.DefaultEndpoints)
	robloxOAuth := roblox.NewOAuth(cfg, store)
	if !robloxOAuth.Configured() {
		logger.Warn("Roblox OAuth2 is not configured, account linking is disabled")
	}

	// Initialize Discord bot
	var (
		manager   *bot.Manager
		botAPI    handlers.Bot
		directory auth.GuildDirectory
	)
	if cfg.BotEnabled() {
		manager, err = bot.New(bot.Config{
			Token:         cfg.DiscordToken,
			ApplicationID: cfg.DiscordApplicationID,
			Links:         notifier.Links{Dashboard: cfg.DashboardURL, Support: cfg.SupportURL},
		}, db, robloxClient, logger)
		if err != nil {
			return err
		}
		botAPI = manager
		directory = manager
	} else {
		logger.Warn("DISCORD_TOKEN not set, running without the bot")
	}

	// Initialize Handlers
	authHandler := auth.NewHandler(cfg, db, store, directory, logger)
	dashboardHandler := handlers.NewDashboardHandler(db, authHandler, botAPI, store, logger)
	robloxHandler := handlers.NewRobloxHandler(db, authHandler, robloxOAuth, robloxClient, cfg.FrontendURL, logger)
	serverHandler := handlers.NewServerHandler(db, authHandler, botAPI, robloxClient, logger)

	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimitPerMinute,
		PerHour:   cfg.RateLimitPerHour,
	})

	// Initialize Router
	r := chi.NewRouter()
	handlers.RegisterRoutes(r, cfg, logger, limiter, authHandler, dashboardHandler, robloxHandler, serverHandler)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	if manager != nil {
		// The API keeps serving when the gateway connection fails.
		g.Go(func() error {
			if err := manager.Run(ctx); err != nil {
				logger.Error("Discord bot stopped", zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}
