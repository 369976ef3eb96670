package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/sharkpro/pkg/clock"
	"github.com/mcclellann/sharkpro/pkg/config"
	"github.com/mcclellann/sharkpro/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Storage, error) {
	if cfg.DBDriver == config.DriverPostgres {
		return store.NewPostgresStore(ctx, cfg.DBSource)
	}
	return store.NewSQLiteStore(cfg.DBSource)
}

// scheduleRefresh runs the overdue refresh on the configured cron expression, in
// the ledger's time zone.
func scheduleRefresh(server *Server, cfg *config.Config, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(cfg.Location))
	_, err := c.AddFunc(cfg.OverdueCron, func() {
		logger.Info("Running overdue refresh...")
		if _, err := server.ledger.RefreshOverdue(context.Background()); err != nil {
			logger.WithError(err).Error("Overdue refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx := context.Background()
	storage, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.DBDriver, err)
	}
	defer storage.Close()

	server := NewServer(storage, clock.System{Location: cfg.Location}, logger)

	scheduler, err := scheduleRefresh(server, cfg, logger)
	if err != nil {
		logger.Fatalf("Invalid OVERDUE_CRON %q: %v", cfg.OverdueCron, err)
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during server shutdown")
	}
	logger.Info("Server stopped")
}
