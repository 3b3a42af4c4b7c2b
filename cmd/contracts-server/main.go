// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"

	"github.com/contracts-hub/internal/config"
	"github.com/contracts-hub/internal/database"
	"github.com/contracts-hub/internal/logger"
	"github.com/contracts-hub/internal/server"
)

const (
	idempotencyRetention = 7 * 24 * time.Hour
	purgeInterval        = time.Hour
)

var (
	configPath = flag.String("config", "", "Path to config file")
	httpPort   = flag.Int("http-port", 0, "HTTP server port (overrides config)")
	dbPath     = flag.String("db-path", "", "SQLite database path (overrides config)")
)

func main() {
	flag.Parse()

	config.LoadDotEnv()
	loaded, err := config.LoadServerConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := loaded.Config
	config.ApplyServerFlags(cfg, *httpPort, *dbPath)

	appLog, err := logger.Init(logger.Options{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	loaded.Watch(func(next *config.ServerConfig, _ fsnotify.Event) {
		appLog.SetLevel(logger.ParseLevel(next.Log.Level))
		logger.Printf("Log level set to %s", next.Log.Level)
	})

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	stores, err := database.NewStores(db)
	if err != nil {
		logger.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := config.NewRedisClient(ctx)
	if err != nil {
		logger.Warnf("Redis not available (%v), WebSocket mailboxes disabled", err)
		redisClient = nil
	}
	hub := server.NewWebSocketManager(redisClient)

	go purgeIdempotencyKeys(ctx, stores.Idempotency)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Routes(server.Options{Stores: stores, Hub: hub, StaticDir: cfg.StaticDir}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("Contracts server listening on %d (db %s)", cfg.HTTPPort, cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, hub, redisClient, cancel)
}

func purgeIdempotencyKeys(ctx context.Context, store *database.IdempotencyStore) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(idempotencyRetention)
			if err != nil {
				logger.Errorf("Idempotency purge failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("Purged %d expired idempotency keys", n)
			}
		}
	}
}

func waitForShutdown(httpServer *http.Server, hub *server.WebSocketManager, redisClient *redis.Client, cancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()

	logger.Printf("Shutting down server...")
	cancel()
	hub.Stop()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
}
