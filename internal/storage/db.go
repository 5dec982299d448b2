package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		condition_type TEXT NOT NULL,
		threshold_value TEXT NOT NULL,
		range_bound TEXT NOT NULL,
		rate_window_minutes INTEGER NOT NULL,
		severity TEXT NOT NULL,
		active_days TEXT,
		active_start_hour INTEGER,
		active_end_hour INTEGER,
		cooldown_minutes INTEGER NOT NULL,
		message_template TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_rules_user ON alert_rules(user_id, enabled, created_at);

	CREATE TABLE IF NOT EXISTS quiet_hours (
		user_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		time_zone TEXT NOT NULL,
		override_severities TEXT,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS readings (
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		value TEXT NOT NULL,
		ts INTEGER NOT NULL,
		PRIMARY KEY (user_id, device_id, ts)
	);
	CREATE INDEX IF NOT EXISTS idx_readings_user_ts ON readings(user_id, ts);

	CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		triggered_at INTEGER NOT NULL,
		reading_value TEXT NOT NULL,
		reading_ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_events_user ON alert_events(user_id, triggered_at);

	CREATE TABLE IF NOT EXISTS device_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_events_kind ON device_events(kind, user_id, event_type, occurred_at);
`

// Open opens the SQLite database at dbPath and creates any missing tables
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// Instants are stored as unix milliseconds so range queries compare integers
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
