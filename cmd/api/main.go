package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-notifications-nosql/internal/application/broadcast"
	"github.com/go-notifications-nosql/internal/application/changefeed"
	"github.com/go-notifications-nosql/internal/config"
	"github.com/go-notifications-nosql/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-notifications-nosql/internal/infrastructure/jwt"
	"github.com/go-notifications-nosql/internal/infrastructure/memory"
	transporthttp "github.com/go-notifications-nosql/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		logger.Error("JWT provider not available", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed := changefeed.New(logger)
	hub := broadcast.NewHub(cfg.LiveSessionBuffer, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx, feed)
		close(hubDone)
	}()

	deps := &transporthttp.Deps{
		Publisher: feed,
		Hub:       hub,
		Verifier:  jwtProvider,
		Logger:    logger,
	}

	var source changefeed.Source
	switch cfg.StoreDriver {
	case config.StoreMemory:
		deps.Notifications = memory.NewNotificationStore()
		deps.Receipts = memory.NewReceiptStore()
	default:
		dynamoClient := dynamo.NewClient(cfg)
		dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
		deps.Notifications = dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)
		deps.Receipts = dynamo.NewReceiptRepo(dynamoClient, cfg.DynamoTables.NotificationReads)
		if cfg.FeedSource == config.FeedDynamoDBStream {
			source = dynamo.NewStreamWatcher(dynamoClient, dynamo.NewStreamsClient(cfg),
				cfg.DynamoTables.Notifications, cfg.StreamPollInterval, logger)
		}
	}

	// Without a native stream, committed Puts publish through the store itself.
	if source == nil {
		deps.Notifications = changefeed.NewPublishingStore(deps.Notifications, feed.Publish)
	} else {
		// A failed source closes the feed, which stops the hub.
		go func() { _ = changefeed.RunSource(ctx, feed, source, cfg.FeedSource) }()
	}
	logger.Info("change feed ready", "store", cfg.StoreDriver, "source", cfg.FeedSource)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	// Cancelling ctx closed the hub, which ends every live connection so
	// Shutdown does not wait on them.
	<-hubDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
		os.Exit(1)
	}
	feed.Close()
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.AppEnv, "production") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
