// Package processor runs the fetch, classify, act and record loop over a
// batch of mailbox messages.
//
// Every per-message failure is isolated: it is logged with the message id and
// error type, counted, and the batch moves on. A message is only recorded once
// its action phase has finished, so anything that failed before that point is
// picked up again by the next run.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/mailbox"
	"jobmail/internal/policy"
	"jobmail/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mailbox is the subset of a mailbox client the loop needs.
type Mailbox interface {
	ListCandidates(ctx context.Context, q mailbox.Query, limit int) ([]string, error)
	GetMessage(ctx context.Context, id string) (mailbox.Message, error)
	ApplyLabel(ctx context.Context, id, label string) error
	Archive(ctx context.Context, id string) error
}

// Store is the state store the loop records outcomes in.
type Store interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	RecordProcessed(ctx context.Context, rec storage.Record) error
	GetStats(ctx context.Context) (storage.Stats, error)
	GetRecent(ctx context.Context, limit int) ([]storage.Record, error)
	ClearAll(ctx context.Context) (int64, error)
}

// Notifier receives the statistics of every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, stats *RunStats) error
}

// Options is the configuration the loop is built with.
type Options struct {
	Threshold float64
	Labels    policy.Labels
	BatchSize int
	Query     string
	DryRun    bool
}

// OptionsFromConfig extracts the loop settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold: cfg.ConfidenceThreshold,
		Labels:    cfg.Labels(),
		BatchSize: cfg.BatchSize,
		Query:     cfg.GmailQuery,
		DryRun:    cfg.DryRun,
	}
}

// RunOptions narrow a single run. Zero values fall back to Options.
type RunOptions struct {
	Query  string
	After  time.Time
	Before time.Time
	Limit  int
	// DryRun forces dry-run for this run; it cannot turn off a configured
	// dry-run.
	DryRun bool
}

// Processor owns one mailbox, one classifier and one store.
type Processor struct {
	mailbox    Mailbox
	classifier classifier.Classifier
	store      Store
	notifier   Notifier
	opts       Options
	logger     zerolog.Logger
	newRunID   func() string
	now        func() time.Time
}

// New builds a Processor. Callers construct the collaborators; nothing is
// looked up globally.
func New(mb Mailbox, cls classifier.Classifier, st Store, opts Options, logger zerolog.Logger) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Labels == (policy.Labels{}) {
		opts.Labels = policy.DefaultLabels()
	}
	return &Processor{
		mailbox:    mb,
		classifier: cls,
		store:      st,
		opts:       opts,
		logger:     logger.With().Str("component", "processor").Logger(),
		newRunID:   func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// SetNotifier registers n to receive run statistics. Notification failures
// are logged and never fail the run.
func (p *Processor) SetNotifier(n Notifier) {
	p.notifier = n
}

// RunBatch processes up to one batch of candidates in fetch order. It fails
// only when candidates cannot be listed or when ctx is cancelled; in the
// latter case the statistics gathered so far are returned with the error.
func (p *Processor) RunBatch(ctx context.Context, ro RunOptions) (*RunStats, error) {
	limit := ro.Limit
	if limit <= 0 {
		limit = p.opts.BatchSize
	}
	query := mailbox.Query{Raw: ro.Query, After: ro.After, Before: ro.Before}
	if query.Raw == "" {
		query.Raw = p.opts.Query
	}

	stats := newRunStats(p.newRunID(), ro.DryRun || p.opts.DryRun, p.now())
	log := p.logger.With().Str("run_id", stats.RunID).Bool("dry_run", stats.DryRun).Logger()
	log.Info().Str("query", query.String()).Int("limit", limit).Msg("Starting run")

	ids, err := p.mailbox.ListCandidates(ctx, query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list candidates")
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	stats.Found = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			stats.finish(p.now())
			log.Warn().Err(err).Int("remaining", stats.Found-stats.handled()).Msg("Run interrupted")
			return stats, err
		}
		p.processOne(ctx, log, stats, id)
	}

	stats.finish(p.now())
	log.Info().
		Int("found", stats.Found).
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("errored", stats.Errored).
		Dur("duration", stats.FinishedAt.Sub(stats.StartedAt)).
		Msg("Run finished")

	if p.notifier != nil {
		if err := p.notifier.NotifyRun(ctx, stats); err != nil {
			log.Warn().Err(err).Msg("Failed to send run summary")
		}
	}
	return stats, nil
}

// processOne takes one message from fetch to record. Subject and body never
// reach the log.
func (p *Processor) processOne(ctx context.Context, runLog zerolog.Logger, stats *RunStats, id string) {
	log := runLog.With().Str("message_id", id).Logger()

	processed, err := p.store.IsProcessed(ctx, id)
	if err != nil {
		p.fail(log, stats, id, StageCheck, err)
		return
	}
	if processed {
		stats.Skipped++
		log.Debug().Msg("Already processed, skipping")
		return
	}

	msg, err := p.mailbox.GetMessage(ctx, id)
	if err != nil {
		p.fail(log, stats, id, StageFetch, err)
		return
	}

	result, err := p.classifier.Classify(ctx, msg.Subject, msg.Body)
	if err != nil {
		p.fail(log, stats, id, StageClassify, err)
		return
	}
	if result.Category == classifier.Unknown {
		log.Info().Float64("confidence", result.Confidence).Str("provider", result.Provider).Msg("Classified as unknown")
	}

	action := p.opts.Labels.Decide(result.Category, result.Confidence, p.opts.Threshold)
	entry := log.Info().
		Str("category", string(result.Category)).
		Float64("confidence", result.Confidence).
		Str("label", action.Label).
		Bool("archive", action.Archive)

	switch {
	case stats.DryRun:
		entry.Msg("Dry run, would apply action")
	case action.IsNone():
		entry.Msg("No action")
	default:
		if action.Label != "" {
			if err := p.mailbox.ApplyLabel(ctx, id, action.Label); err != nil {
				p.fail(log, stats, id, StageLabel, err)
				return
			}
			stats.Labeled++
		}
		if action.Archive {
			if err := p.mailbox.Archive(ctx, id); err != nil {
				p.fail(log, stats, id, StageArchive, err)
				return
			}
			stats.Archived++
		}
		entry.Msg("Applied action")
	}

	rec := storage.Record{
		MessageID:      id,
		ProcessedAt:    p.now().UTC(),
		Subject:        msg.Subject,
		FromEmail:      msg.From,
		Classification: result.Category,
		Confidence:     result.Confidence,
		Provider:       result.Provider,
		Model:          result.Model,
		Archived:       action.Archive,
		DryRun:         stats.DryRun,
		RunID:          stats.RunID,
	}
	if result.Reasoning != "" {
		reasoning := result.Reasoning
		rec.Reasoning = &reasoning
	}
	if action.Label != "" {
		label := action.Label
		rec.LabelApplied = &label
	}

	if err := p.store.RecordProcessed(ctx, rec); err != nil {
		p.fail(log, stats, id, StageRecord, err)
		return
	}

	stats.Processed++
	stats.ByCategory[result.Category]++
}

func (p *Processor) fail(log zerolog.Logger, stats *RunStats, id string, stage Stage, err error) {
	kind := ErrorKind(err)
	stats.Errored++
	stats.Failures = append(stats.Failures, Failure{MessageID: id, Stage: stage, ErrorType: kind})

	var dup *storage.DuplicateRecordError
	if errors.As(err, &dup) {
		// the loop checks IsProcessed first, so this means two writers or a bug
		log.Error().Err(err).Str("stage", string(stage)).Str("error_type", kind).Msg("Message recorded twice")
		return
	}
	log.Error().Err(err).Str("stage", string(stage)).Str("error_type", kind).Msg("Failed to process message")
}

// Report is the store-wide view returned by Stats.
type Report struct {
	Stats  storage.Stats    `json:"stats"`
	Recent []storage.Record `json:"recent"`
}

// Stats returns the store-wide counts plus the most recent records. recent
// <= 0 uses the store default.
func (p *Processor) Stats(ctx context.Context, recent int) (*Report, error) {
	stats, err := p.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	records, err := p.store.GetRecent(ctx, recent)
	if err != nil {
		return nil, err
	}
	return &Report{Stats: stats, Recent: records}, nil
}

// Reset deletes every processed record so all messages become eligible
// again.
func (p *Processor) Reset(ctx context.Context) (int64, error) {
	n, err := p.store.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	p.logger.Warn().Int64("deleted", n).Msg("State store reset")
	return n, nil
}
