// Package sqldb persists the tool registry, audit trail, and job queue in
// SQLite or Postgres through sqlx. The driver is chosen from the database
// URL scheme; both dialects share one store implementation with rebound
// placeholders.
package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Registered driver names.
const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

// ParseDatabaseURL maps a configured database URL onto a registered driver
// name and its DSN. Postgres URLs pass through unchanged; sqlite:// URLs
// are stripped to their path so file paths and :memory: work as written.
func ParseDatabaseURL(databaseURL string) (driverName, dsn string, err error) {
	switch {
	case databaseURL == "":
		return "", "", fmt.Errorf("database URL is empty")
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return driverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(databaseURL, "sqlite://"), nil
	default:
		// file: DSNs and bare paths go straight to the sqlite driver.
		return driverSQLite, databaseURL, nil
	}
}

// Open connects to the database named by databaseURL and applies the
// connection pool settings for the chosen driver.
func Open(databaseURL string) (*sqlx.DB, error) {
	driverName, dsn, err := ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driverName, err)
	}

	if driverName == driverSQLite {
		// An in-memory sqlite database exists per connection, so the
		// pool must never grow past the connection that created it.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

// Bootstrap creates the tools, audit_logs, and jobs tables and their
// indexes when missing. Safe to run on every startup.
func Bootstrap(ctx context.Context, db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == driverPostgres {
		schema = postgresSchema
	}

	stmts := make([]string, 0, len(schema)+len(schemaIndexes))
	stmts = append(stmts, schema...)
	stmts = append(stmts, schemaIndexes...)

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

// The autoincrement and timestamp spellings differ between the dialects,
// so each carries its own table DDL. Index DDL is shared.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tools (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT      NOT NULL,
		description    TEXT      NOT NULL,
		backend_url    TEXT      NOT NULL,
		scope          TEXT      NOT NULL,
		risk_level     TEXT      NOT NULL,
		required_roles TEXT,
		categories     TEXT,
		input_schema   TEXT,
		is_active      BOOLEAN   NOT NULL DEFAULT TRUE,
		usage_count    BIGINT    NOT NULL DEFAULT 0,
		last_used_at   TIMESTAMP,
		embedding      TEXT,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     TIMESTAMP NOT NULL,
		request_id    TEXT      NOT NULL,
		user_id       TEXT      NOT NULL,
		tool_name     TEXT      NOT NULL,
		endpoint_path TEXT      NOT NULL,
		status        TEXT      NOT NULL,
		duration_ms   BIGINT    NOT NULL,
		error_code    TEXT      NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT      PRIMARY KEY,
		user_id      TEXT      NOT NULL,
		tool_name    TEXT      NOT NULL,
		arguments    TEXT      NOT NULL,
		status       TEXT      NOT NULL,
		result       TEXT,
		error        TEXT      NOT NULL DEFAULT '',
		request_id   TEXT      NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS tools (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT        NOT NULL,
		description    TEXT        NOT NULL,
		backend_url    TEXT        NOT NULL,
		scope          TEXT        NOT NULL,
		risk_level     TEXT        NOT NULL,
		required_roles TEXT,
		categories     TEXT,
		input_schema   TEXT,
		is_active      BOOLEAN     NOT NULL DEFAULT TRUE,
		usage_count    BIGINT      NOT NULL DEFAULT 0,
		last_used_at   TIMESTAMPTZ,
		embedding      TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id            BIGSERIAL   PRIMARY KEY,
		timestamp     TIMESTAMPTZ NOT NULL,
		request_id    TEXT        NOT NULL,
		user_id       TEXT        NOT NULL,
		tool_name     TEXT        NOT NULL,
		endpoint_path TEXT        NOT NULL,
		status        TEXT        NOT NULL,
		duration_ms   BIGINT      NOT NULL,
		error_code    TEXT        NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id           UUID        PRIMARY KEY,
		user_id      TEXT        NOT NULL,
		tool_name    TEXT        NOT NULL,
		arguments    TEXT        NOT NULL,
		status       TEXT        NOT NULL,
		result       TEXT,
		error        TEXT        NOT NULL DEFAULT '',
		request_id   TEXT        NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
}

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ix_tools_name ON tools (name)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_timestamp ON audit_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_user_id ON audit_logs (user_id)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_tool_name ON audit_logs (tool_name)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_status ON audit_logs (status)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_endpoint_path ON audit_logs (endpoint_path)`,
	`CREATE INDEX IF NOT EXISTS ix_audit_logs_request_id ON audit_logs (request_id)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_user_id ON jobs (user_id)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_request_id ON jobs (request_id)`,
}

// utcPtr normalizes an optional timestamp to UTC so text-encoded sqlite
// columns compare chronologically.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
