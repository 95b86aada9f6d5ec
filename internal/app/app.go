// Package app assembles the configured collaborators into a ready
// processing loop for the command-line tool and the HTTP server.
package app

import (
	"context"
	"fmt"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/gmail"
	"jobmail/internal/notify"
	"jobmail/internal/processor"
	"jobmail/internal/provider"
	"jobmail/internal/storage"

	"github.com/rs/zerolog"
)

// App holds everything one process needs. Close releases the store.
type App struct {
	Config     *config.Config
	Store      *storage.Store
	Classifier classifier.Classifier
	Processor  *processor.Processor
}

// MailboxFactory builds the mailbox client. Tests substitute a fake.
type MailboxFactory func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (processor.Mailbox, error)

// GmailMailbox is the production MailboxFactory.
func GmailMailbox(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (processor.Mailbox, error) {
	c, err := gmail.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// New validates cfg and builds the full loop. Configuration problems are
// reported before anything touches the mailbox.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, mailbox MailboxFactory) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cls, err := provider.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	mb, err := mailbox(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	p := processor.New(mb, cls, st, processor.OptionsFromConfig(cfg), logger)
	if m := notify.NewMailer(cfg, logger); m != nil {
		p.SetNotifier(m)
	}

	logger.Info().
		Str("provider", cls.Name()).
		Float64("threshold", cfg.ConfidenceThreshold).
		Bool("dry_run", cfg.DryRun).
		Bool("notifications", cfg.NotificationsEnabled()).
		Msg("Processing loop ready")

	return &App{Config: cfg, Store: st, Classifier: cls, Processor: p}, nil
}

// OpenStore opens only the state store, for commands that never reach the
// mailbox or a classification backend.
func OpenStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage.Store, error) {
	st, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return st, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
