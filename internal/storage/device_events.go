package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// SQLiteDeviceEvents stores care events such as sensor starts and site changes
type SQLiteDeviceEvents struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteDeviceEvents creates a device event store on an open database
func NewSQLiteDeviceEvents(logger *zap.Logger, db *sql.DB) *SQLiteDeviceEvents {
	return &SQLiteDeviceEvents{
		logger: logger.Named("device_events"),
		db:     db,
	}
}

// Record stores a device event, assigning an ID when empty
func (s *SQLiteDeviceEvents) Record(ctx context.Context, event model.DeviceEvent) (model.DeviceEvent, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_events (id, user_id, kind, event_type, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.UserID,
		string(event.Kind),
		event.EventType,
		toMillis(event.OccurredAt),
	)
	if err != nil {
		return event, fmt.Errorf("failed to store device event: %w", err)
	}
	return event, nil
}

// Latest returns, for every user, the most recent event of each event type of the given kind
func (s *SQLiteDeviceEvents) Latest(ctx context.Context, kind model.DeviceKind) ([]model.DeviceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, event_type, MAX(occurred_at)
		FROM device_events
		WHERE kind = ?
		GROUP BY user_id, event_type
		ORDER BY user_id, event_type`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query device events: %w", err)
	}
	defer rows.Close()

	var events []model.DeviceEvent
	for rows.Next() {
		var (
			event      model.DeviceEvent
			eventKind  string
			occurredAt int64
		)
		if err := rows.Scan(&event.ID, &event.UserID, &eventKind, &event.EventType, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan device event: %w", err)
		}
		event.Kind = model.DeviceKind(eventKind)
		event.OccurredAt = fromMillis(occurredAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}
