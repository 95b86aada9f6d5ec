package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"jobmail/internal/classifier"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory SQLite store whose clock advances one
// second per call, so ordering by processed_at is deterministic.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func strPtr(s string) *string { return &s }

func record(id string, category classifier.Category) Record {
	return Record{
		MessageID:      id,
		Subject:        "Subject " + id,
		FromEmail:      "jobs@example.com",
		Classification: category,
		Confidence:     0.9,
		Provider:       "fake",
		Model:          "keyword-rules",
		RunID:          "run-1",
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	processed, err := s.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, processed)

	rec := record("m1", classifier.Rejection)
	rec.Reasoning = strPtr("declined")
	rec.LabelApplied = strPtr("Rejected")
	rec.Archived = true
	require.NoError(t, s.RecordProcessed(ctx, rec))

	processed, err = s.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, processed)

	recent, err := s.GetRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	got := recent[0]
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, classifier.Rejection, got.Classification)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	require.NotNil(t, got.Reasoning)
	assert.Equal(t, "declined", *got.Reasoning)
	require.NotNil(t, got.LabelApplied)
	assert.Equal(t, "Rejected", *got.LabelApplied)
	assert.True(t, got.Archived)
	assert.False(t, got.DryRun)
	assert.Equal(t, "run-1", got.RunID)
	assert.WithinDuration(t, time.Date(2025, 3, 1, 9, 0, 1, 0, time.UTC), got.ProcessedAt, time.Millisecond)
}

func TestStore_NullableFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordProcessed(ctx, record("m1", classifier.Unknown)))

	recent, err := s.GetRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].Reasoning)
	assert.Nil(t, recent[0].LabelApplied)
	assert.False(t, recent[0].Archived)
}

func TestStore_DuplicateIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := record("m1", classifier.Acknowledgement)
	require.NoError(t, s.RecordProcessed(ctx, first))

	second := record("m1", classifier.Rejection)
	err := s.RecordProcessed(ctx, second)

	var dup *DuplicateRecordError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "m1", dup.MessageID)

	recent, err := s.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, classifier.Acknowledgement, recent[0].Classification)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Len(t, stats.ByCategory, len(classifier.Categories()))

	for i, c := range []classifier.Category{
		classifier.Rejection, classifier.Rejection, classifier.JobBoard, classifier.Unknown,
	} {
		require.NoError(t, s.RecordProcessed(ctx, record(string(rune('a'+i)), c)))
	}

	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByCategory[classifier.Rejection])
	assert.Equal(t, int64(1), stats.ByCategory[classifier.JobBoard])
	assert.Equal(t, int64(1), stats.ByCategory[classifier.Unknown])
	assert.Equal(t, int64(0), stats.ByCategory[classifier.Acknowledgement])
	assert.Equal(t, int64(0), stats.ByCategory[classifier.FollowupRequired])
}

func TestStore_RecentAndByCategoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ids := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	for i, id := range ids {
		category := classifier.JobBoard
		if i%2 == 0 {
			category = classifier.Acknowledgement
		}
		require.NoError(t, s.RecordProcessed(ctx, record(id, category)))
	}

	recent, err := s.GetRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"m6", "m5", "m4"}, messageIDs(recent))

	acks, err := s.GetByCategory(ctx, classifier.Acknowledgement, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m3", "m1"}, messageIDs(acks))

	boards, err := s.GetByCategory(ctx, classifier.JobBoard, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m6"}, messageIDs(boards))

	none, err := s.GetByCategory(ctx, classifier.Rejection, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_GetRecentDefaultLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < DefaultRecentLimit+2; i++ {
		require.NoError(t, s.RecordProcessed(ctx, record(string(rune('a'+i)), classifier.Unknown)))
	}

	recent, err := s.GetRecent(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, recent, DefaultRecentLimit)
}

func TestStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordProcessed(ctx, record("m1", classifier.Rejection)))
	require.NoError(t, s.RecordProcessed(ctx, record("m2", classifier.JobBoard)))

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	processed, err := s.IsProcessed(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, processed)

	n, err = s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// a cleared message can be recorded again
	require.NoError(t, s.RecordProcessed(ctx, record("m1", classifier.Rejection)))
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.migrate(ctx))

	var version int
	require.NoError(t, s.db.Get(&version, "SELECT MAX(version) FROM schema_version"))
	assert.Equal(t, len(migrations), version)
}

func TestStore_RecordRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordProcessed(context.Background(), Record{})
	assert.Error(t, err)
}

func TestStore_DatabaseErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		call      func(s *Store) error
		wantError string
	}{
		{
			name: "is processed query failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM processed_emails").
					WillReturnError(sql.ErrConnDone)
			},
			call: func(s *Store) error {
				_, err := s.IsProcessed(context.Background(), "m1")
				return err
			},
			wantError: "checking message m1",
		},
		{
			name: "begin failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			call: func(s *Store) error {
				return s.RecordProcessed(context.Background(), record("m1", classifier.Rejection))
			},
			wantError: "beginning transaction",
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM processed_emails").
					WithArgs("m1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec("INSERT INTO processed_emails").
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			call: func(s *Store) error {
				return s.RecordProcessed(context.Background(), record("m1", classifier.Rejection))
			},
			wantError: "inserting message m1",
		},
		{
			name: "existing record detected in transaction",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM processed_emails").
					WithArgs("m1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				mock.ExpectRollback()
			},
			call: func(s *Store) error {
				return s.RecordProcessed(context.Background(), record("m1", classifier.Rejection))
			},
			wantError: "already recorded",
		},
		{
			name: "stats query failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT classification, COUNT").
					WillReturnError(sql.ErrConnDone)
			},
			call: func(s *Store) error {
				_, err := s.GetStats(context.Background())
				return err
			},
			wantError: "counting records",
		},
		{
			name: "clear failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM processed_emails").
					WillReturnError(sql.ErrConnDone)
			},
			call: func(s *Store) error {
				_, err := s.ClearAll(context.Background())
				return err
			},
			wantError: "clearing records",
		},
		{
			name: "migration failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").
					WillReturnError(errors.New("permission denied"))
			},
			call: func(s *Store) error {
				return s.migrate(context.Background())
			},
			wantError: "creating schema_version table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			db := sqlx.NewDb(mockDB, "sqlmock")
			tt.setupMock(mock)

			err = tt.call(newStore(db, zerolog.Nop()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}

func messageIDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.MessageID
	}
	return ids
}
