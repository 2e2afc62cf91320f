package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"noctis-guard/internal/audit"
	"noctis-guard/internal/automod"
	"noctis-guard/internal/bot"
	"noctis-guard/internal/clock"
	"noctis-guard/internal/commandsync"
	"noctis-guard/internal/config"
	"noctis-guard/internal/gateway"
	"noctis-guard/internal/giveaway"
	"noctis-guard/internal/leveling"
	"noctis-guard/internal/moderation"
	"noctis-guard/internal/settings"
	"noctis-guard/internal/storage"
	"noctis-guard/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		backend  storage.Backend
		fileRoot *storage.File
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		backend = pg
	default:
		fileRoot, err = storage.NewFile(cfg.Storage.DataDir, logger)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		backend = fileRoot
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	gw := gateway.NewDiscord(session)
	clk := clock.Real()

	auditLogger := audit.NewLogger(backend, logger)
	guildSettings := settings.New(backend, logger)
	levels := leveling.New(backend, leveling.Config{
		Cooldown: time.Duration(cfg.Leveling.CooldownSeconds) * time.Second,
		MinXP:    cfg.Leveling.MinXP,
		MaxXP:    cfg.Leveling.MaxXP,
	}, logger)
	warnings := moderation.NewWarnings(backend, auditLogger)
	activity := webhook.NewActivityLog(backend, cfg.Webhook.ActivityRetainSize, logger)
	for name, load := range map[string]func(context.Context) error{
		"cases":    auditLogger.Load,
		"settings": guildSettings.Load,
		"levels":   levels.Load,
		"warnings": warnings.Load,
		"activity": activity.Load,
	} {
		if err := load(ctx); err != nil {
			logger.Fatal("load failed", zap.String("store", name), zap.Error(err))
		}
	}

	giveaways := giveaway.New(backend, gw, logger, giveaway.WithClock(clk), giveaway.WithEmoji(cfg.Giveaways.Emoji))
	tempbans := moderation.NewTempbans(backend, gw, auditLogger, clk, logger)
	queue := commandsync.New(backend, gw, bot.Definitions(), commandsync.Config{
		MaxAttempts:     cfg.Commands.MaxAttempts,
		BaseBackoff:     cfg.Commands.BaseBackoff(),
		MaxBackoff:      cfg.Commands.MaxBackoff(),
		InterGuildDelay: cfg.Commands.InterGuildDelay(),
		StartupDelay:    cfg.Commands.StartupDelay(),
		WatchDebounce:   cfg.Commands.WatchDebounce(),
	}, clk, logger)

	botSvc := bot.New(cfg, logger, session, bot.Deps{
		Gateway:   gw,
		Settings:  guildSettings,
		Levels:    levels,
		Automod: automod.New(automod.Config{
			BadWords:    cfg.Automod.BadWords,
			SpamRepeats: cfg.Automod.SpamRepeats,
			SpamWindow:  time.Duration(cfg.Automod.SpamWindowSeconds) * time.Second,
		}),
		Giveaways: giveaways,
		Tempbans:  tempbans,
		Warnings:  warnings,
		Audit:     auditLogger,
		Commands:  queue,
		Clock:     clk,
	})

	// Timers may fire as soon as they are armed, so the gateway opens first.
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("storage", cfg.Storage.Driver))

	if err := giveaways.Start(ctx); err != nil {
		logger.Fatal("giveaway start failed", zap.Error(err))
	}
	if err := tempbans.Start(ctx); err != nil {
		logger.Fatal("tempban start failed", zap.Error(err))
	}

	pendingPath := ""
	if fileRoot != nil {
		pendingPath = fileRoot.Path(commandsync.StoreName)
		go func() {
			debounce := time.Duration(cfg.Giveaways.WatchDebounceMillis) * time.Millisecond
			if err := giveaways.Watch(ctx, fileRoot.Path(giveaway.StoreName), debounce); err != nil {
				logger.Warn("giveaway watcher stopped", zap.Error(err))
			}
		}()
	}
	queue.Start(ctx, pendingPath)

	var server *http.Server
	if cfg.Webhook.Enabled {
		var auth *webhook.Auth
		if cfg.Webhook.OAuthClientID != "" {
			auth = webhook.NewAuth(cfg.Webhook.OAuthClientID, cfg.Webhook.OAuthClientSecret, cfg.Webhook.OAuthRedirectURL,
				cfg.Dashboard.BaseURL, time.Duration(cfg.Webhook.SessionTTLMinutes)*time.Minute, logger)
		}
		if cfg.Webhook.Secret == "" {
			logger.Warn("webhook secret not set, control plane is unauthenticated")
		}
		api := webhook.New(cfg.Webhook.Secret, guildSettings, queue, giveaways, activity, auth, clk, logger)
		server = &http.Server{
			Addr:              cfg.Webhook.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("webhook server listening", zap.String("addr", cfg.Webhook.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("webhook server error", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	giveaways.Stop()
	tempbans.Stop()
	botSvc.Close()
	logger.Info("stopped")
}
