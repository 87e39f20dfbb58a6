package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order, each exactly once, tracked in the
// schema_version table. Column names follow the chat data layer layout so
// existing databases can be opened as-is.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: users, threads, steps, elements, feedbacks",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			"id"         TEXT PRIMARY KEY,
			"identifier" TEXT NOT NULL UNIQUE,
			"metadata"   TEXT NOT NULL,
			"createdAt"  TEXT
		);

		CREATE TABLE IF NOT EXISTS threads (
			"id"             TEXT PRIMARY KEY,
			"createdAt"      TEXT,
			"name"           TEXT,
			"userId"         TEXT,
			"userIdentifier" TEXT,
			"tags"           TEXT,
			"metadata"       TEXT,
			FOREIGN KEY ("userId") REFERENCES users("id") ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS steps (
			"id"              TEXT PRIMARY KEY,
			"name"            TEXT NOT NULL,
			"type"            TEXT NOT NULL,
			"threadId"        TEXT NOT NULL,
			"parentId"        TEXT,
			"disableFeedback" INTEGER NOT NULL DEFAULT 0,
			"streaming"       INTEGER NOT NULL,
			"waitForAnswer"   INTEGER,
			"isError"         INTEGER,
			"metadata"        TEXT,
			"tags"            TEXT,
			"input"           TEXT,
			"output"          TEXT,
			"createdAt"       TEXT,
			"start"           TEXT,
			"end"             TEXT,
			"generation"      TEXT,
			"showInput"       TEXT,
			"language"        TEXT,
			"indent"          INTEGER
		);

		CREATE TABLE IF NOT EXISTS elements (
			"id"          TEXT PRIMARY KEY,
			"threadId"    TEXT,
			"type"        TEXT,
			"url"         TEXT,
			"chainlitKey" TEXT,
			"name"        TEXT NOT NULL,
			"display"     TEXT,
			"objectKey"   TEXT,
			"size"        TEXT,
			"page"        INTEGER,
			"language"    TEXT,
			"forId"       TEXT,
			"mime"        TEXT
		);

		CREATE TABLE IF NOT EXISTS feedbacks (
			"id"       TEXT PRIMARY KEY,
			"forId"    TEXT NOT NULL,
			"threadId" TEXT NOT NULL,
			"value"    INTEGER NOT NULL,
			"comment"  TEXT
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: lookup indexes for thread listing and step replay",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_threads_user ON threads("userIdentifier", "createdAt");
		CREATE INDEX IF NOT EXISTS idx_steps_thread ON steps("threadId", "createdAt");
		CREATE INDEX IF NOT EXISTS idx_feedbacks_for ON feedbacks("forId");
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyInTx(db, m); err != nil {
			// Databases created by older tooling may already hold some of
			// these objects; retry statement by statement.
			logger.Warn("migration failed as a batch, retrying per statement", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyInTx(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return err
	}
	if err := recordVersion(tx, m); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.Version, err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordVersion(e execer, m migration) error {
	if _, err := e.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// applyMigrationStatements applies each statement individually, skipping
// "already exists" and "duplicate column" failures.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped", "stmt", clip(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, clip(stmt, 200))
		}
	}
	return recordVersion(db, m)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetSchemaVersion returns the applied schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err != nil {
		return 0, nil
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
