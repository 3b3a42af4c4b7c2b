// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/contracts-hub/internal/agent"
	"github.com/contracts-hub/internal/config"
	"github.com/contracts-hub/internal/logger"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	serverAddr = flag.String("server", "", "Contracts server address (overrides config)")
	listenPort = flag.Int("port", 0, "Local listen port (overrides config)")
	dataDir    = flag.String("data-dir", "", "Directory for the queue, caches and lock file (overrides config)")
)

func main() {
	flag.Parse()

	config.LoadDotEnv()
	loaded, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := loaded.Config
	config.ApplyAgentFlags(cfg, *serverAddr, *listenPort, *dataDir)

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

	a, err := agent.New(cfg, agent.Options{})
	if errors.Is(err, agent.ErrAlreadyRunning) {
		logger.Errorf("Agent already running on %s, exiting", cfg.DataDir)
		os.Exit(1)
	}
	if err != nil {
		logger.Fatalf("Failed to create agent: %v", err)
	}

	loaded.Watch(func(next *config.AgentConfig, _ fsnotify.Event) {
		a.SetLogLevel(next.Log.Level)
		logger.Printf("Log level set to %s", next.Log.Level)
		a.SetHeartbeatInterval(next.Heartbeat.Interval)
	})

	if err := a.Start(context.Background()); err != nil {
		a.Stop()
		logger.Fatalf("Failed to start agent: %v", err)
	}

	httpServer := &http.Server{
		Addr:              a.Address(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("Contracts agent listening on %s (server %s, data %s)", a.Address(), cfg.Server.Address, cfg.DataDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, a)
}

func waitForShutdown(httpServer *http.Server, a *agent.Agent) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Printf("Shutting down agent...")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}
	a.Stop()
}
