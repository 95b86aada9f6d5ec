// Package storage persists which messages have been processed and how they
// were classified. A record's existence is the only "already processed"
// signal the processing loop relies on.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/database"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultRecentLimit is used by GetRecent when no positive limit is given.
const DefaultRecentLimit = 10

// Record is one processed message.
type Record struct {
	MessageID      string              `db:"message_id" json:"message_id"`
	ProcessedAt    time.Time           `db:"processed_at" json:"processed_at"`
	Subject        string              `db:"subject" json:"subject"`
	FromEmail      string              `db:"from_email" json:"from_email"`
	Classification classifier.Category `db:"classification" json:"classification"`
	Confidence     float64             `db:"confidence" json:"confidence"`
	Provider       string              `db:"provider" json:"provider"`
	Model          string              `db:"model" json:"model"`
	Reasoning      *string             `db:"reasoning" json:"reasoning,omitempty"`
	LabelApplied   *string             `db:"label_applied" json:"label_applied,omitempty"`
	Archived       bool                `db:"archived" json:"archived"`
	DryRun         bool                `db:"dry_run" json:"dry_run"`
	RunID          string              `db:"run_id" json:"run_id,omitempty"`
}

// Stats is the store-wide count of records per category.
type Stats struct {
	Total      int64                         `json:"total"`
	ByCategory map[classifier.Category]int64 `json:"by_category"`
}

// DuplicateRecordError is returned when a record for the message already
// exists. Records are never overwritten.
type DuplicateRecordError struct {
	MessageID string
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("message %s is already recorded", e.MessageID)
}

// Store is the SQL-backed state store. It is safe for concurrent use within
// one process.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open connects to databaseURL and brings the schema up to date.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	db, err := database.Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection and applies any outstanding migrations.
func New(ctx context.Context, db *sqlx.DB, logger zerolog.Logger) (*Store, error) {
	s := newStore(db, logger)
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func newStore(db *sqlx.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}
}

// DB exposes the connection for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate checks the current schema version and applies any outstanding
// migrations in order, each in its own transaction where the driver allows.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaVersion); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), m.version, s.now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}

		s.logger.Info().Int("version", m.version).Msg("Applied schema migration")
	}
	return nil
}

const recordColumns = `message_id, processed_at, subject, from_email, classification, confidence,
	provider, model, reasoning, label_applied, archived, dry_run, run_id`

// IsProcessed reports whether a record exists for messageID.
func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM processed_emails WHERE message_id = ?"), messageID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// RecordProcessed inserts rec. A zero ProcessedAt is stamped with the current
// time. An existing record for the same message yields *DuplicateRecordError
// and is left untouched.
func (s *Store) RecordProcessed(ctx context.Context, rec Record) error {
	if rec.MessageID == "" {
		return fmt.Errorf("record has no message id")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.now()
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.GetContext(ctx, &count, tx.Rebind("SELECT COUNT(*) FROM processed_emails WHERE message_id = ?"), rec.MessageID); err != nil {
		return fmt.Errorf("checking message %s: %w", rec.MessageID, err)
	}
	if count > 0 {
		return &DuplicateRecordError{MessageID: rec.MessageID}
	}

	const query = `INSERT INTO processed_emails (` + recordColumns + `) VALUES (
		:message_id, :processed_at, :subject, :from_email, :classification, :confidence,
		:provider, :model, :reasoning, :label_applied, :archived, :dry_run, :run_id)`

	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		if isUniqueViolation(err) {
			return &DuplicateRecordError{MessageID: rec.MessageID}
		}
		return fmt.Errorf("inserting message %s: %w", rec.MessageID, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return &DuplicateRecordError{MessageID: rec.MessageID}
		}
		return fmt.Errorf("committing message %s: %w", rec.MessageID, err)
	}
	return nil
}

// GetStats counts records per category. Every known category is present,
// with zero when no record has it.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Classification classifier.Category `db:"classification"`
		Count          int64               `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT classification, COUNT(*) AS count FROM processed_emails GROUP BY classification")
	if err != nil {
		return Stats{}, fmt.Errorf("counting records: %w", err)
	}

	stats := Stats{ByCategory: make(map[classifier.Category]int64)}
	for _, c := range classifier.Categories() {
		stats.ByCategory[c] = 0
	}
	for _, r := range rows {
		stats.ByCategory[r.Classification] += r.Count
		stats.Total += r.Count
	}
	return stats, nil
}

// GetRecent returns the newest records first. A non-positive limit means
// DefaultRecentLimit.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	records := []Record{}
	query := s.db.Rebind("SELECT " + recordColumns + " FROM processed_emails ORDER BY processed_at DESC LIMIT ?")
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("listing recent records: %w", err)
	}
	return records, nil
}

// GetByCategory returns records of one category, newest first. A
// non-positive limit returns all of them.
func (s *Store) GetByCategory(ctx context.Context, category classifier.Category, limit int) ([]Record, error) {
	records := []Record{}
	var err error
	if limit > 0 {
		query := s.db.Rebind("SELECT " + recordColumns + " FROM processed_emails WHERE classification = ? ORDER BY processed_at DESC LIMIT ?")
		err = s.db.SelectContext(ctx, &records, query, category, limit)
	} else {
		query := s.db.Rebind("SELECT " + recordColumns + " FROM processed_emails WHERE classification = ? ORDER BY processed_at DESC")
		err = s.db.SelectContext(ctx, &records, query, category)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s records: %w", category, err)
	}
	return records, nil
}

// ClearAll deletes every record and returns how many were removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM processed_emails")
	if err != nil {
		return 0, fmt.Errorf("clearing records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting cleared records: %w", err)
	}
	s.logger.Warn().Int64("deleted", n).Msg("Cleared all processed records")
	return n, nil
}

// isUniqueViolation recognizes primary-key and unique-constraint failures
// from each supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
