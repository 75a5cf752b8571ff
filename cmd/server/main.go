package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/kwic/internal/api"
	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/engine"
	"github.com/knowledge-engine/kwic/internal/storage"
)

func main() {
	// 1. Config
	cfg := config.Load()

	// 2. Logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	entry := logger.WithField("service", "kwic-api")

	entry.Info("Starting keyword-in-context search service")

	// 3. Session storage
	store, err := storage.New(cfg.Storage, entry.WithField("component", "storage"))
	if err != nil {
		entry.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// 4. Engine
	eng, err := engine.NewEngine(cfg, entry, store)
	if err != nil {
		entry.Fatalf("Failed to initialize engine: %v", err)
	}
	if err := eng.Start(); err != nil {
		entry.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Stop()

	// 5. API Server
	server := api.NewServer(eng, entry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			entry.WithError(err).Warn("Graceful shutdown failed")
		}
	}()

	entry.WithFields(logrus.Fields{
		"addr":    cfg.Server.Addr,
		"storage": store.Name(),
	}).Info("API ready")
	if err := server.Start(cfg.Server.Addr); err != nil {
		entry.Fatal(err)
	}
	entry.Info("Server stopped")
}
