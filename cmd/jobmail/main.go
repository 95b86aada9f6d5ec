package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"jobmail/internal/app"
	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/gmail"
	"jobmail/internal/mailbox"
	"jobmail/internal/processor"
	"jobmail/internal/storage"

	"github.com/rs/zerolog"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

const usage = `Usage: jobmail <command> [flags]

Commands:
  run     classify new job-application emails and label/archive them
  stats   show classification counts and recent records
  reset   delete all processed records
  auth    authorize Gmail access and save the OAuth token

Run "jobmail <command> -h" for command flags.
`

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout))
}

func realMain(args []string, in io.Reader, out io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(out, usage)
		if len(args) == 0 {
			return exitError
		}
		return exitOK
	}

	cfg := config.Load()
	logger := cfg.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "run":
		err = runCmd(ctx, cfg, logger, args[1:], out)
	case "stats":
		err = statsCmd(ctx, cfg, logger, args[1:], out)
	case "reset":
		err = resetCmd(ctx, cfg, logger, args[1:], in, out)
	case "auth":
		err = gmail.Authorize(ctx, cfg, in, out)
	default:
		fmt.Fprintf(out, "unknown command %q\n\n%s", args[0], usage)
		return exitError
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.Warn().Msg("Interrupted")
		return exitInterrupted
	case classifier.IsConfigError(err):
		logger.Error().Err(err).Msg("Configuration error")
		return exitError
	default:
		logger.Error().Err(err).Msg("Command failed")
		return exitError
	}
}

func runCmd(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	query := fs.String("query", "", "Gmail search query (default from GMAIL_QUERY)")
	limit := fs.Int("limit", 0, "maximum messages to process (default BATCH_SIZE)")
	after := fs.String("after", "", "only messages after this date (YYYY-MM-DD)")
	before := fs.String("before", "", "only messages before this date (YYYY-MM-DD)")
	dryRun := fs.Bool("dry-run", false, "classify and record without labeling or archiving")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ro := processor.RunOptions{Query: *query, Limit: *limit, DryRun: *dryRun}
	var err error
	if *after != "" {
		if ro.After, err = mailbox.ParseDate(*after); err != nil {
			return classifier.NewConfigError("invalid --after date %q", *after)
		}
	}
	if *before != "" {
		if ro.Before, err = mailbox.ParseDate(*before); err != nil {
			return classifier.NewConfigError("invalid --before date %q", *before)
		}
	}

	a, err := app.New(ctx, cfg, logger, app.GmailMailbox)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, runErr := a.Processor.RunBatch(ctx, ro)
	if stats != nil {
		printRunStats(out, stats)
	}
	if runErr != nil {
		return runErr
	}

	report, err := a.Processor.Stats(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printTotals(out, report.Stats)
	return nil
}

func statsCmd(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(out)
	recent := fs.Int("recent", storage.DefaultRecentLimit, "number of recent records to show")
	category := fs.String("category", "", "only show recent records of this category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetStats(ctx)
	if err != nil {
		return err
	}
	printTotals(out, stats)

	var records []storage.Record
	if *category != "" {
		c, ok := classifier.ParseCategory(*category)
		if !ok {
			return classifier.NewConfigError("unknown category %q, supported: %s", *category, joinCategories())
		}
		records, err = st.GetByCategory(ctx, c, *recent)
	} else {
		records, err = st.GetRecent(ctx, *recent)
	}
	if err != nil {
		return err
	}
	if len(records) > 0 {
		fmt.Fprintln(out)
		printRecords(out, records)
	}
	return nil
}

func resetCmd(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(out)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if !*force {
		stats, err := st.GetStats(ctx)
		if err != nil {
			return err
		}
		if !confirm(in, out, fmt.Sprintf("Delete all %d processed records? Every message becomes eligible again. [y/N] ", stats.Total)) {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	n, err := st.ClearAll(ctx)
	if err != nil {
		return err
	}
	logger.Warn().Int64("deleted", n).Msg("State store reset")
	fmt.Fprintf(out, "Deleted %d records\n", n)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func printRunStats(out io.Writer, stats *processor.RunStats) {
	title := "Run complete"
	if stats.DryRun {
		title = "Dry run complete (no labels applied, nothing archived)"
	}
	fmt.Fprintf(out, "%s in %s\n", title, stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  found\t%d\n", stats.Found)
	fmt.Fprintf(w, "  processed\t%d\n", stats.Processed)
	fmt.Fprintf(w, "  skipped\t%d\n", stats.Skipped)
	fmt.Fprintf(w, "  errored\t%d\n", stats.Errored)
	if !stats.DryRun {
		fmt.Fprintf(w, "  labeled\t%d\n", stats.Labeled)
		fmt.Fprintf(w, "  archived\t%d\n", stats.Archived)
	}
	for _, c := range classifier.Categories() {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %s\t%d\n", c, n)
		}
	}
	_ = w.Flush()

	for _, f := range stats.Failures {
		fmt.Fprintf(out, "  failed %s at %s: %s\n", f.MessageID, f.Stage, f.ErrorType)
	}
}

func printTotals(out io.Writer, stats storage.Stats) {
	fmt.Fprintf(out, "Processed messages: %d\n", stats.Total)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range classifier.Categories() {
		fmt.Fprintf(w, "  %s\t%d\n", c, stats.ByCategory[c])
	}
	_ = w.Flush()
}

func printRecords(out io.Writer, records []storage.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROCESSED\tCATEGORY\tCONF\tLABEL\tSUBJECT")
	for _, r := range records {
		label := "-"
		if r.LabelApplied != nil {
			label = *r.LabelApplied
			if r.DryRun {
				label += " (dry run)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n",
			r.ProcessedAt.Local().Format("2006-01-02 15:04"),
			r.Classification,
			r.Confidence,
			label,
			truncate(r.Subject, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func joinCategories() string {
	var names []string
	for _, c := range classifier.Categories() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
