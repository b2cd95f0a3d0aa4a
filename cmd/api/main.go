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

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/notify"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newNotifier(cfg config.SMTPConfig, logger *logrus.Logger) notify.Notifier {
	if !cfg.Enabled() {
		logger.Info("SMTP not configured, notifications are logged only")
		return notify.NewLogNotifier(logger)
	}
	return notify.NewEmailNotifier(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, logger)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg.Log)

	loc, err := cfg.Ledger.Location()
	if err != nil {
		logger.Fatalf("Failed to load timezone: %v", err)
	}

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	l := ledger.NewLedger(sqliteStore, ledger.Options{
		Logger:           logger,
		Notifier:         newNotifier(cfg.SMTP, logger),
		Location:         loc,
		SlipTolerance:    cfg.Ledger.SlipTolerance,
		DefaultAfterDays: cfg.Ledger.DefaultAfterDays,
		Workers:          cfg.Batch.Workers,
		MaxRetries:       cfg.Ledger.MaxRetries,
	})
	server := NewServer(l, logger)

	scheduler, err := startBatchScheduler(l, cfg.Batch.Cron, loc, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule daily batch: %v", err)
	}
	if cfg.Batch.RunOnStart {
		go runScheduledBatch(l, logger)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTP.Port),
		Handler:      server.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	// Wait for a running batch to finish before the store closes.
	<-scheduler.Stop().Done()
	logger.Info("Server stopped")
}
