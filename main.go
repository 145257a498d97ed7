package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"triage_server/config"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	}

	// Initialize logger early; config errors below already go through it.
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "phishtriage",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	// Start the ingestion side.
	deps.Pool.Start()
	if deps.Poller != nil {
		deps.Poller.Start()
	}
	if cfg.MonitorEnabled {
		deps.Catchup.Start()
	}
	if deps.Subscription != nil {
		if err := deps.Subscription.Start(); err != nil {
			logger.WithError(err).Warn("push subscription failed at startup, pollers cover intake")
		}
	}

	app := bootstrap.NewAPI(deps)

	// Graceful shutdown: stop intake, drain workers, then exit.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			if deps.Subscription != nil {
				deps.Subscription.Stop()
			}
			if deps.Poller != nil {
				deps.Poller.Stop()
			}
			deps.Catchup.Stop()
			deps.Pool.Stop()
			if err := app.Shutdown(); err != nil {
				logger.WithError(err).Error("HTTP shutdown failed")
			}
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting phishing-triage server on %s (mailbox: %s)", addr, cfg.MailboxAddress)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
