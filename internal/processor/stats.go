package processor

import (
	"context"
	"errors"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/storage"
)

// Stage names the step of the loop a message failed in.
type Stage string

const (
	StageCheck    Stage = "check"
	StageFetch    Stage = "fetch"
	StageClassify Stage = "classify"
	StageLabel    Stage = "label"
	StageArchive  Stage = "archive"
	StageRecord   Stage = "record"
)

// Failure identifies a message that errored. It carries no message content.
type Failure struct {
	MessageID string `json:"message_id"`
	Stage     Stage  `json:"stage"`
	ErrorType string `json:"error_type"`
}

// RunStats summarizes one batch run.
type RunStats struct {
	RunID      string                      `json:"run_id"`
	DryRun     bool                        `json:"dry_run"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Found      int                         `json:"found"`
	Processed  int                         `json:"processed"`
	Skipped    int                         `json:"skipped"`
	Errored    int                         `json:"errored"`
	Labeled    int                         `json:"labeled"`
	Archived   int                         `json:"archived"`
	ByCategory map[classifier.Category]int `json:"by_category"`
	Failures   []Failure                   `json:"failures,omitempty"`
}

func newRunStats(runID string, dryRun bool, started time.Time) *RunStats {
	byCategory := make(map[classifier.Category]int)
	for _, c := range classifier.Categories() {
		byCategory[c] = 0
	}
	return &RunStats{
		RunID:      runID,
		DryRun:     dryRun,
		StartedAt:  started.UTC(),
		ByCategory: byCategory,
	}
}

func (s *RunStats) finish(at time.Time) {
	s.FinishedAt = at.UTC()
}

func (s *RunStats) handled() int {
	return s.Processed + s.Skipped + s.Errored
}

// ErrorKind names the error taxonomy entry for err, for logs and reports.
func ErrorKind(err error) string {
	var parseErr *classifier.ParseError
	var providerErr *classifier.ProviderError
	var configErr *classifier.ConfigError
	var dupErr *storage.DuplicateRecordError
	switch {
	case errors.As(err, &parseErr):
		return "parse_error"
	case errors.As(err, &providerErr):
		return "provider_error"
	case errors.As(err, &configErr):
		return "config_error"
	case errors.As(err, &dupErr):
		return "duplicate_record"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "mailbox_or_store_error"
	}
}
