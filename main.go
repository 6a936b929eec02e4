package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpilot/config"
	"leadpilot/dialer"
	"leadpilot/engine"
	"leadpilot/middleware"
	"leadpilot/routes"
	"leadpilot/utils"
	"leadpilot/worker"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Error tracking
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Wire the engine's collaborators
	registry := dialer.NewRegistry(logger)
	defer registry.Close()

	messenger := utils.NewMessenger(utils.MessengerConfig{
		TwilioAccountSID: config.AppConfig.TwilioAccountSID,
		TwilioAuthToken:  config.AppConfig.TwilioAuthToken,
		TwilioFromNumber: config.AppConfig.TwilioFromNumber,
		SMTPHost:         config.AppConfig.SMTPHost,
		SMTPPort:         config.AppConfig.SMTPPort,
		SMTPUsername:     config.AppConfig.SMTPUsername,
		SMTPPassword:     config.AppConfig.SMTPPassword,
		FromEmail:        config.AppConfig.FromEmail,
		FromName:         config.AppConfig.FromName,
	}, logger)

	eng := engine.New(config.DB, logger, engine.Options{
		Agents:          dialer.NewAgentAPI(logger),
		Dialer:          registry,
		Messenger:       messenger,
		Webhooks:        utils.NewWebhookClient(),
		DefaultTimezone: config.AppConfig.PlatformTimezone,
		BatchSize:       config.AppConfig.EngineBatchSize,
	})

	// Initialize and start the journey worker
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journeyWorker := worker.NewJourneyWorker(config.DB, eng, logger)
	go journeyWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(app, config.DB, eng, logger)

	// Stop the worker on SIGINT/SIGTERM before the process exits
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
		_ = app.Shutdown()
	}()

	// Start server
	logger.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
