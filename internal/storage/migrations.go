package storage

// migration is one schema step. Statements run one at a time because the
// MySQL driver rejects multi-statement strings by default.
type migration struct {
	version    int
	statements []string
}

// migrations must stay ordered and sequential from 1. The DDL sticks to
// types that SQLite, MySQL and PostgreSQL all accept.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS processed_emails (
				message_id     VARCHAR(255) NOT NULL PRIMARY KEY,
				processed_at   TIMESTAMP NOT NULL,
				subject        TEXT NOT NULL,
				from_email     TEXT NOT NULL,
				classification VARCHAR(32) NOT NULL,
				confidence     DOUBLE PRECISION NOT NULL,
				provider       VARCHAR(64) NOT NULL,
				model          VARCHAR(128) NOT NULL,
				reasoning      TEXT NULL,
				label_applied  VARCHAR(255) NULL,
				archived       BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE INDEX idx_processed_emails_processed_at ON processed_emails (processed_at)`,
			`CREATE INDEX idx_processed_emails_classification ON processed_emails (classification)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`ALTER TABLE processed_emails ADD COLUMN dry_run BOOLEAN NOT NULL DEFAULT FALSE`,
			`ALTER TABLE processed_emails ADD COLUMN run_id VARCHAR(36) NOT NULL DEFAULT ''`,
		},
	},
}

const createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER NOT NULL PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`
