// Package notify mails a summary of each processing run via SendGrid.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/processor"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends run summaries. Summaries carry counts and message ids only,
// never subjects or bodies.
type Mailer struct {
	apiKey string
	host   string
	to     string
	from   string
	logger zerolog.Logger
}

// NewMailer returns a Mailer, or nil when notifications are not configured.
func NewMailer(cfg *config.Config, logger zerolog.Logger) *Mailer {
	if !cfg.NotificationsEnabled() {
		return nil
	}
	return &Mailer{
		apiKey: cfg.SendGridAPIKey,
		to:     cfg.NotifyEmail,
		from:   cfg.NotifyFrom,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// NotifyRun implements processor.Notifier. Empty runs are not reported.
func (m *Mailer) NotifyRun(ctx context.Context, stats *processor.RunStats) error {
	if stats == nil || stats.Found == 0 {
		return nil
	}
	if m.apiKey == "" {
		return fmt.Errorf("SendGrid API key not configured")
	}

	from := mail.NewEmail("jobmail", m.from)
	to := mail.NewEmail("", m.to)
	subject := Subject(stats)
	body := Summary(stats)
	message := mail.NewSingleEmailPlainText(from, subject, to, body)

	client := sendgrid.NewSendClient(m.apiKey)
	if m.host != "" {
		client.BaseURL = m.host + "/v3/mail/send"
	}
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send run summary: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}

	m.logger.Debug().Str("run_id", stats.RunID).Msg("Run summary sent")
	return nil
}

// Subject is the summary mail subject line.
func Subject(stats *processor.RunStats) string {
	prefix := "jobmail run"
	if stats.DryRun {
		prefix = "jobmail dry run"
	}
	return fmt.Sprintf("%s: %d processed, %d errored", prefix, stats.Processed, stats.Errored)
}

// Summary renders stats as plain text.
func Summary(stats *processor.RunStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", stats.RunID)
	fmt.Fprintf(&b, "Finished: %s (%s)\n", stats.FinishedAt.Format(time.RFC3339), stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond))
	if stats.DryRun {
		b.WriteString("Dry run: no labels applied, nothing archived\n")
	}
	fmt.Fprintf(&b, "\nFound:     %d\nProcessed: %d\nSkipped:   %d\nErrored:   %d\n", stats.Found, stats.Processed, stats.Skipped, stats.Errored)
	fmt.Fprintf(&b, "Labeled:   %d\nArchived:  %d\n", stats.Labeled, stats.Archived)

	b.WriteString("\nBy category:\n")
	for _, c := range classifier.Categories() {
		fmt.Fprintf(&b, "  %-18s %d\n", c, stats.ByCategory[c])
	}

	if len(stats.Failures) > 0 {
		failures := append([]processor.Failure(nil), stats.Failures...)
		sort.SliceStable(failures, func(i, j int) bool { return failures[i].Stage < failures[j].Stage })
		b.WriteString("\nFailures:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "  %s  %s  %s\n", f.MessageID, f.Stage, f.ErrorType)
		}
	}
	return b.String()
}
