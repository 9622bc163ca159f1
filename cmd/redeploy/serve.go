package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redeploy/internal/config"
	"redeploy/internal/deployment"
	"redeploy/internal/history"
	"redeploy/internal/metrics"
	"redeploy/internal/server"
)

var testMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notification listener",
	Long: `Start the HTTP server that receives build notifications.

Each POST to / (or /hook) carrying {"name": JOB, "build": {"number": N}}
deploys that build's .tar.gz artifact and answers once the release is live.
GET /health, /status and /metrics report on the listener.`,
	RunE: runServe,
}

func init() {
	defaults := config.Defaults()
	serveCmd.Flags().StringVar(&host, flagHost, defaults.Host, "Host to bind to")
	serveCmd.Flags().IntVarP(&port, flagPort, "p", defaults.Port, "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("REDEPLOY_TEST_MODE") == "1", "Enable test mode (no rate limiting, no history)")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, configPath, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(settings.LogFile, settings.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting redeploy", "version", version)
	if configPath != "" {
		logger.Info("Loaded configuration", "config", configPath)
	}
	warnInsecureConfig(logger, configPath, settings)
	if settings.WebhookSecret == "" {
		logger.Warn("No webhook_secret configured; notifications are accepted unsigned")
	}

	m := metrics.New()
	opts := []deployment.Option{deployment.WithLogger(logger), deployment.WithMetrics(m)}

	var hist server.HistoryReader
	if !testMode {
		logger.Info("Initializing history database", "db", settings.HistoryDB)
		h, err := history.NewHistory(settings.HistoryDB)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer h.Close()
		hist = h
		opts = append(opts, deployment.WithHistory(h))
	}

	controller, err := deployment.NewController(settings, opts...)
	if err != nil {
		logger.Error("Failed to create deployment controller", "error", err)
		return err
	}

	srv := server.NewServer(controller, hist, m, settings, logger, testMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(settings.ListenAddr())
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down; waiting for in-flight deployments")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown did not complete", "error", err)
		return err
	}
	return <-errCh
}
