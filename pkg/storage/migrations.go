package storage

import (
	"database/sql"
	"fmt"
)

// Timestamps are stored as unix nanoseconds so inclusive range bounds
// compare exactly.
var migrations = []string{
	// Migration 1: usage ledger
	`CREATE TABLE IF NOT EXISTS usage_records (
		id             TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL DEFAULT '',
		scope_id       TEXT NOT NULL DEFAULT '',
		provider       TEXT NOT NULL DEFAULT '',
		model          TEXT NOT NULL,
		input_units    INTEGER NOT NULL DEFAULT 0,
		output_units   INTEGER NOT NULL DEFAULT 0,
		total_units    INTEGER NOT NULL DEFAULT 0,
		images         INTEGER NOT NULL DEFAULT 0,
		audio_seconds  REAL NOT NULL DEFAULT 0.0,
		input_cost     REAL NOT NULL DEFAULT 0.0,
		output_cost    REAL NOT NULL DEFAULT 0.0,
		image_cost     REAL NOT NULL DEFAULT 0.0,
		audio_cost     REAL NOT NULL DEFAULT 0.0,
		total_cost     REAL NOT NULL DEFAULT 0.0,
		metadata       TEXT NOT NULL DEFAULT '{}',
		created_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_correlation ON usage_records(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_usage_scope ON usage_records(scope_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_records(created_at);`,

	// Migration 2: budgets and alert history
	`CREATE TABLE IF NOT EXISTS budgets (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		limit_usd  REAL NOT NULL,
		period     TEXT NOT NULL CHECK(period IN ('hourly', 'daily', 'weekly', 'monthly', 'total')),
		thresholds TEXT NOT NULL DEFAULT '[]',
		action     TEXT NOT NULL CHECK(action IN ('alert', 'block', 'throttle')),
		scope_type TEXT NOT NULL DEFAULT '',
		scope_id   TEXT NOT NULL DEFAULT '',
		enabled    INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id           TEXT PRIMARY KEY,
		budget_id    TEXT NOT NULL,
		budget_name  TEXT NOT NULL,
		period       TEXT NOT NULL,
		threshold    REAL NOT NULL,
		spend        REAL NOT NULL,
		limit_usd    REAL NOT NULL,
		severity     TEXT NOT NULL,
		message      TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		created_at   INTEGER NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		UNIQUE(budget_id, threshold, window_start)
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_budget ON alerts(budget_id);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
