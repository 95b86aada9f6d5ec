package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"jobmail/internal/app"
	"jobmail/internal/config"
	"jobmail/internal/server"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger
	logger := cfg.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Configuration errors are fatal before the server accepts any request
	a, err := app.New(ctx, cfg, logger, app.GmailMailbox)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	srv := server.New(cfg, a.Store.DB(), a.Processor, a.Classifier.Name(), logger)
	srv.Initialize()

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return
	}
	logger.Info().Msg("Server stopped")
}
