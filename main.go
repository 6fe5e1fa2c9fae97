package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"setup-tracker/config"
	"setup-tracker/internal/alerts"
	"setup-tracker/internal/api"
	"setup-tracker/internal/database"
	"setup-tracker/internal/events"
	"setup-tracker/internal/logging"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/notification"
	"setup-tracker/internal/planner"
	"setup-tracker/internal/risk"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/signalbot"
	"setup-tracker/internal/validation"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:  cfg.LoggingConfig.Level,
		Output: cfg.LoggingConfig.Output,
		Pretty: cfg.LoggingConfig.Pretty,
	})
	logger.Info().Msg("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info().Msg("Event bus initialized")

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	cancelMigrate()
	logger.Info().Msg("Database connected and migrated")

	repo := database.NewRepository(db)

	// Alert deduplication store: Redis when available, in-process otherwise.
	var dedup alerts.DedupStore
	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory alert dedup")
			dedup = alerts.NewMemoryDedupStore()
		} else {
			dedup = alerts.NewRedisDedupStore(redisClient)
			logger.Info().Str("address", cfg.RedisConfig.Address).Msg("Redis alert dedup enabled")
		}
		cancelPing()
	} else {
		dedup = alerts.NewMemoryDedupStore()
		logger.Info().Msg("Using in-memory alert dedup")
	}

	// Alert engine
	var alertEngine *alerts.Engine
	if cfg.AlertConfig.Enabled {
		alertEngine = alerts.NewEngine(repo, dedup, eventBus, logger)
		alertEngine.SetTouchTolerance(cfg.AlertConfig.TouchTolerancePct)
		logger.Info().Msg("Alert engine initialized")
	}

	// Risk manager
	riskManager := risk.NewManager(risk.Config{
		RiskPerTradePercent: cfg.RiskConfig.RiskPerTradePercent,
		MinRiskReward:       cfg.RiskConfig.MinRiskReward,
		MaxOpenSetups:       cfg.RiskConfig.MaxOpenSetups,
		BreakEvenRatio:      cfg.RiskConfig.BreakEvenRatio,
	})
	riskManager.UpdateEquity(cfg.RiskConfig.AccountEquity)
	logger.Info().Float64("equity", cfg.RiskConfig.AccountEquity).Msg("Risk manager initialized")

	// Validation engine
	validator := validation.NewEngine(cfg.ValidationConfig.MinConfidence)

	// Setup lifecycle engine
	setupEngine := setups.NewEngine(repo, eventBus, logger)

	// Market data provider with read-through caching
	httpProvider := marketdata.NewHTTPProvider(cfg.MarketDataConfig.BaseURL, cfg.MarketDataConfig.Interval)
	provider := marketdata.NewCachedProvider(httpProvider, cfg.MarketDataConfig.CacheTTLDuration())

	// Signal bot
	bot := signalbot.NewBot(repo, setupEngine, validator, riskManager, alertEngine, provider, eventBus, signalbot.Config{
		Enabled:       cfg.SignalBotConfig.Enabled,
		SweepInterval: cfg.SignalBotConfig.Interval(),
		WorkerCount:   cfg.SignalBotConfig.WorkerCount,
		MinConfidence: cfg.ValidationConfig.MinConfidence,
	}, logger)
	bot.SetPlanners(planner.NewRangeBreakout(), planner.NewSupportBounce())
	bot.Start()

	// Notifications ride on the event bus so emitters never block on delivery
	if cfg.NotificationConfig.Enabled {
		notifyManager := notification.NewManager()

		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  cfg.NotificationConfig.Telegram.Enabled,
			}))
			logger.Info().Msg("Telegram notifier enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    cfg.NotificationConfig.Discord.Enabled,
			}))
			logger.Info().Msg("Discord notifier enabled")
		}

		subscribeNotifications(eventBus, notifyManager)
	}

	// HTTP API server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: os.Getenv("GIN_MODE") == "release",
	}, repo, setupEngine, validator, riskManager, alertEngine, provider, bot, eventBus, logger)

	go func() {
		logger.Info().Int("port", cfg.ServerConfig.Port).Msg("Starting API server")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")

	bot.Stop()

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}

// subscribeNotifications bridges lifecycle events into outbound notifications.
func subscribeNotifications(bus *events.EventBus, manager *notification.Manager) {
	bus.Subscribe(events.EventSetupEntered, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		entryPrice, _ := e.Data["entry_price"].(float64)
		price, _ := e.Data["price"].(float64)
		_ = manager.SendSetupEntered(symbol, entryPrice, price)
	})

	bus.Subscribe(events.EventSetupClosed, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		status, _ := e.Data["status"].(string)
		outcome, _ := e.Data["outcome"].(string)
		price, _ := e.Data["price"].(float64)
		pnl, _ := e.Data["pnl_percent"].(float64)
		_ = manager.SendSetupClosed(symbol, status, outcome, price, pnl)
	})

	bus.Subscribe(events.EventAlertFired, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		levelType, _ := e.Data["level_type"].(string)
		direction, _ := e.Data["direction"].(string)
		targetPrice, _ := e.Data["target_price"].(float64)
		price, _ := e.Data["price"].(float64)
		_ = manager.SendAlert(symbol, levelType, direction, targetPrice, price)
	})

	bus.Subscribe(events.EventSignalEmitted, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		signalType, _ := e.Data["signal_type"].(string)
		price, _ := e.Data["price"].(float64)
		confidence, _ := e.Data["confidence"].(float64)
		_ = manager.SendSignal(symbol, signalType, price, confidence)
	})

	bus.Subscribe(events.EventError, func(e events.Event) {
		source, _ := e.Data["source"].(string)
		message, _ := e.Data["message"].(string)
		_ = manager.SendError(fmt.Sprintf("Error in %s", source), message)
	})
}
