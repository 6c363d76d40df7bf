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

	"go.uber.org/zap"

	"trackflow/internal/api"
	"trackflow/internal/auth"
	"trackflow/internal/config"
	"trackflow/internal/db"
	"trackflow/internal/mail"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
	"trackflow/internal/scheduler"
	"trackflow/internal/storage"
	"trackflow/internal/telemetry"
	"trackflow/internal/version"
)

func main() {
	cfg := config.Load()

	logger := config.MustInitLogger(cfg.Env, cfg.LogLevel)
	defer logger.Sync() // Flush any buffered log entries

	logger.Info("Starting TrackFlow API",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Port),
		zap.String("version", version.Version),
	)

	// Background context for workers, cancelled on shutdown
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	shutdownTelemetry, err := telemetry.Setup(bgCtx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    version.Name,
		ServiceVersion: version.Version,
		Environment:    cfg.Env,
		Insecure:       cfg.IsDevelopment(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}

	database, err := db.New(db.Config{
		Driver:         cfg.DBDriver,
		DBPath:         cfg.DBPath,
		DSN:            cfg.DBDSN,
		MigrationsPath: cfg.MigrationsPath,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	store, err := storage.New(cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize file storage", zap.Error(err))
	}

	// Mail: inline delivery unless Redis is configured
	sender := mail.NewSMTPSender(cfg.SMTP, logger)
	queue := mail.NewQueue(cfg.Redis, sender, logger)
	defer queue.Close()
	worker := mail.NewWorker(cfg.Redis, sender, logger)
	if worker != nil && queue.IsAsync() {
		worker.Start()
		defer worker.Stop()
	}

	notifier := notify.NewService(database, queue, cfg.BaseURL, logger)

	hub := realtime.NewHub(bgCtx, logger)
	if cfg.NATSURL != "" {
		relay, err := realtime.NewRelay(cfg.NATSURL, hub, logger)
		if err != nil {
			logger.Warn("Realtime relay unavailable, events stay local", zap.Error(err))
		} else {
			defer relay.Close()
		}
	}

	sched, err := scheduler.New(scheduler.Config{
		ReminderCron:  cfg.ReminderCron,
		ReconcileCron: cfg.ReconcileCron,
	}, database, notifier, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", zap.Error(err))
	}
	sched.Start()

	server := api.NewServer(database, cfg, logger)
	server.SetAuthService(auth.NewService(cfg.JWTSecret, cfg.JWTExpiry()))
	server.SetStorage(store)
	server.SetNotifier(notifier)
	server.SetHub(hub)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // uploads and CSV exports
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal, starting graceful shutdown", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		if err := srv.Close(); err != nil {
			logger.Error("Failed to close server", zap.Error(err))
		}
	}

	sched.Stop(ctx)
	bgCancel()
	<-hub.Done()

	if err := shutdownTelemetry(ctx); err != nil {
		logger.Warn("Telemetry shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
