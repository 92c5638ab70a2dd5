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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	config, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Could not load config: %v\n", err)
	}

	logger := newLogger(os.Stdout, config.LogLevel, config.LogFormat)

	if err := run(config, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to initialize store: %w", err)
	}
	defer store.Close()
	logger.Info("connected to store", "driver", config.StoreDriver)

	if config.SeedSample {
		if err := seedSample(ctx, store); err != nil {
			return fmt.Errorf("unable to seed sample data: %w", err)
		}
	}

	var mirror VoucherMirror
	if config.MongoURI != "" {
		m, err := NewMongoMirror(ctx, config.MongoURI, config.MongoDatabase, config.MongoCollection)
		if err != nil {
			return err
		}
		defer m.Close(context.Background())
		mirror = m
		logger.Info("connected to document store", "database", config.MongoDatabase, "collection", config.MongoCollection)
	}

	publisher, closePublisher, err := buildPublisher(config, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	h := NewHandler(store, mirror, publisher, logger, config.VoucherThreshold)

	mux := chi.NewRouter()
	RegisterRouters(mux, h, config.AllowedOrigins)

	srv := &http.Server{
		Addr:              config.ServerAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", config.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(config.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, config *Config) (Store, error) {
	switch config.StoreDriver {
	case "postgres":
		return NewPostgresStore(ctx, config.DatabaseURL)
	case "sqlite":
		return NewSQLiteStore(config.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", config.StoreDriver)
	}
}

// buildPublisher returns nil when neither Telegram nor RabbitMQ is configured.
func buildPublisher(config *Config, logger *slog.Logger) (NotificationPublisher, func(), error) {
	var publishers multiPublisher
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if config.TelegramToken != "" {
		tg, err := NewTelegramPublisher(config.TelegramToken, config.TelegramChatID, config.TelegramEndpoint, logger)
		if err != nil {
			return nil, closeAll, err
		}
		publishers = append(publishers, tg)
		logger.Info("chat notifications enabled", "chat_id", config.TelegramChatID)
	}

	if config.RabbitMQURL != "" {
		mq, err := NewRabbitMQPublisher(config.RabbitMQURL, config.RabbitMQQueue, logger)
		if err != nil {
			return nil, closeAll, err
		}
		publishers = append(publishers, mq)
		closers = append(closers, mq.Close)
		logger.Info("queue notifications enabled", "queue", config.RabbitMQQueue)
	}

	if len(publishers) == 0 {
		return nil, closeAll, nil
	}
	return publishers, closeAll, nil
}

// seedSample inserts the sample user and spending into an empty store.
func seedSample(ctx context.Context, store Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	user, err := store.CreateUser(ctx, User{Name: "Marija", Email: "marija25@gmail.com", Age: 25})
	if err != nil {
		return err
	}

	_, err = store.CreateSpending(ctx, Spending{UserId: user.Id, MoneySpent: decimal.NewFromInt(1000), Year: 2023})
	return err
}
