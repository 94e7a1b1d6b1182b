package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"area-engine/internal/common/logging"
	"area-engine/internal/config"
)

// Run is the process entrypoint: load configuration, assemble the
// engine, serve until SIGINT/SIGTERM, then shut down gracefully.
func Run() error {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()
	defer logging.MustSync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", err)
		return err
	}

	application, err := New(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble engine", err)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("admin server failed", err)
			application.Shutdown(context.Background())
			return err
		}
	}

	application.Shutdown(context.Background())
	return nil
}
