package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DriverFor auto-detects the driver from the URL and returns the DSN the
// driver expects. Anything without a mysql:// or postgres:// prefix is a
// SQLite file path.
func DriverFor(databaseURL string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "mysql://"):
		dsn = strings.TrimPrefix(databaseURL, "mysql://")
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true"
		}
		return DriverMySQL, dsn
	default:
		dsn = strings.TrimPrefix(databaseURL, "sqlite://")
		if !strings.Contains(dsn, "_time_format=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			// store times in a format SQLite's date functions understand
			dsn += sep + "_time_format=sqlite"
		}
		return DriverSQLite, dsn
	}
}

// Open connects to the database named by databaseURL (SQLite, MySQL or
// PostgreSQL) and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	driver, dsn := DriverFor(databaseURL)
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// a second connection to :memory: would see an empty database,
		// and SQLite serializes writers anyway
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	return db, nil
}

// Ping runs a trivial query inside a transaction that is always rolled back.
func Ping(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result int
	if err := tx.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to execute ping query: %w", err)
	}
	return nil
}
