package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// SQLiteAlertHistory records alert events that were delivered
type SQLiteAlertHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertHistory creates an alert history on an open database
func NewSQLiteAlertHistory(logger *zap.Logger, db *sql.DB) *SQLiteAlertHistory {
	return &SQLiteAlertHistory{
		logger: logger.Named("alert_history"),
		db:     db,
	}
}

// Store records an alert event
func (h *SQLiteAlertHistory) Store(ctx context.Context, event model.AlertEvent) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO alert_events (
			id, rule_id, user_id, device_id, severity, message,
			triggered_at, reading_value, reading_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.RuleID,
		event.UserID,
		event.DeviceID,
		string(event.Severity),
		event.Message,
		toMillis(event.TriggeredAt),
		event.ReadingValue.String(),
		toMillis(event.ReadingTimestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to store alert event: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent alert events, newest first
func (h *SQLiteAlertHistory) ListByUser(ctx context.Context, userID string, offset, limit int) ([]model.AlertEvent, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, rule_id, user_id, device_id, severity, message, triggered_at, reading_value, reading_ts
		FROM alert_events
		WHERE user_id = ?
		ORDER BY triggered_at DESC, id
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []model.AlertEvent
	for rows.Next() {
		var (
			event                  model.AlertEvent
			severity               string
			triggeredAt, readingTs int64
		)
		err := rows.Scan(
			&event.ID,
			&event.RuleID,
			&event.UserID,
			&event.DeviceID,
			&severity,
			&event.Message,
			&triggeredAt,
			&event.ReadingValue,
			&readingTs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		event.Severity = model.AlertSeverity(severity)
		event.TriggeredAt = fromMillis(triggeredAt)
		event.ReadingTimestamp = fromMillis(readingTs)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// DeleteBefore removes alert events triggered before the given time
func (h *SQLiteAlertHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx, `DELETE FROM alert_events WHERE triggered_at < ?`, toMillis(before))
	if err != nil {
		return fmt.Errorf("failed to delete alert events: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	h.logger.Info("Deleted old alert events",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}
