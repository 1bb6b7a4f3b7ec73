package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"helpdesk-sync/internal/api"
	"helpdesk-sync/internal/auth"
	"helpdesk-sync/internal/automation"
	"helpdesk-sync/internal/config"
	"helpdesk-sync/internal/db"
	"helpdesk-sync/internal/importer"
	"helpdesk-sync/internal/kafka"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/mailbox"
	"helpdesk-sync/internal/notification"
	"helpdesk-sync/internal/providers"
	"helpdesk-sync/internal/realtime"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	// Connect to database
	dbConn, err := db.New(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Errorf("DB close failed: %v", err)
		} else {
			logger.Infof("DB connection closed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	// Realtime delivery and notifications
	registry := realtime.NewRegistry(logger, realtime.Options{
		HeartbeatInterval:     cfg.Realtime.HeartbeatInterval,
		MaxConnectionsPerUser: cfg.Realtime.MaxConnectionsPerUser,
	})
	svc := notification.New(dbConn, logger, registry)

	var telegram *providers.Telegram
	if cfg.Telegram.BotToken != "" {
		telegram, err = providers.NewTelegram(cfg.Telegram.BotToken, dbConn, logger, providers.TelegramOptions{
			RatePerSecond: cfg.Telegram.RatePerSecond,
		})
		if err != nil {
			logger.Errorf("Telegram disabled: %v", err)
		} else {
			telegram.Start(&wg)
			svc.AddPublisher(telegram)
			logger.Infof("Telegram publisher started")
		}
	}

	// Mail import and automation, driven by the trigger endpoints
	imp := importer.New(dbConn, svc, logger)
	syncer := importer.NewSyncer(dbConn, mailbox.NewIMAPDialer(), imp, logger, importer.SyncOptions{
		LookbackDays: cfg.Mail.LookbackDays,
		MaxPerPass:   cfg.Mail.MaxPerPass,
	})
	scanner := automation.NewScanner(dbConn, svc, logger, cfg.Location(), automation.Policy{
		AutoCloseAfterDays: cfg.Automation.AutoCloseAfterDays,
	})

	// Initialize Kafka consumer
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, svc, dbConn, logger)
		consumer.Start(ctx, &wg)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.Topic)
	}

	// Start API server
	router := api.NewRouter(api.Deps{
		Syncer:        syncer,
		Scanner:       scanner,
		Notifications: svc,
		Contacts:      dbConn,
		Registry:      registry,
		Tokens:        auth.NewService(cfg.Auth.JWTSecret),
	}, logger, cfg)
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			cancel()
		}
	}()

	// Handle graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Infof("Shutting down...")

	// Streams stay open until their connections are dropped.
	registry.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}

	cancel()
	if telegram != nil {
		telegram.Stop()
	}
	wg.Wait()
	logger.Infof("Service stopped")
}
