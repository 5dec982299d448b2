package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// SQLiteReadingHistory stores evaluated readings for rate-of-change lookups
type SQLiteReadingHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteReadingHistory creates a reading history on an open database
func NewSQLiteReadingHistory(logger *zap.Logger, db *sql.DB) *SQLiteReadingHistory {
	return &SQLiteReadingHistory{
		logger: logger.Named("reading_history"),
		db:     db,
	}
}

// Append stores a reading. A duplicate of an existing reading is ignored.
func (h *SQLiteReadingHistory) Append(ctx context.Context, reading model.Reading) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO readings (user_id, device_id, value, ts)
		VALUES (?, ?, ?, ?)`,
		reading.UserID,
		reading.DeviceID,
		reading.Value.String(),
		toMillis(reading.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	return nil
}

// RecentReadings returns the user's readings with from <= timestamp < to, oldest first
func (h *SQLiteReadingHistory) RecentReadings(ctx context.Context, userID string, from, to time.Time) ([]model.Reading, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT user_id, device_id, value, ts
		FROM readings
		WHERE user_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts`,
		userID, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []model.Reading
	for rows.Next() {
		var (
			reading model.Reading
			ts      int64
		)
		if err := rows.Scan(&reading.UserID, &reading.DeviceID, &reading.Value, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.Timestamp = fromMillis(ts)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return readings, nil
}

// DeleteBefore removes readings older than before
func (h *SQLiteReadingHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx, `DELETE FROM readings WHERE ts < ?`, toMillis(before))
	if err != nil {
		return fmt.Errorf("failed to delete readings: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	h.logger.Info("Deleted old readings",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}
