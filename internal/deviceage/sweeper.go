package deviceage

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/t77yq/glucose-alerts/internal/metrics"
	"github.com/t77yq/glucose-alerts/internal/model"
)

const notifiedCapacity = 50_000

// EventSource returns the latest events of a kind for every user and event type
type EventSource interface {
	Latest(ctx context.Context, kind model.DeviceKind) ([]model.DeviceEvent, error)
}

// NoticePublisher delivers device age notices
type NoticePublisher interface {
	PublishNotice(ctx context.Context, notice model.DeviceAgeNotice) error
}

type notifiedKey struct {
	userID string
	kind   model.DeviceKind
}

type notifiedState struct {
	eventID  string
	severity model.AlertSeverity
}

// Sweeper periodically checks every user's devices and publishes a notice
// each time a device reaches a higher severity than it was last notified at.
type Sweeper struct {
	calc      *Calculator
	events    EventSource
	publisher NoticePublisher
	notified  *lru.Cache[notifiedKey, notifiedState]
	now       func() time.Time
	logger    *zap.Logger
}

// NewSweeper creates a sweeper
func NewSweeper(calc *Calculator, events EventSource, publisher NoticePublisher, logger *zap.Logger) (*Sweeper, error) {
	notified, err := lru.New[notifiedKey, notifiedState](notifiedCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create notice cache: %w", err)
	}
	return &Sweeper{
		calc:      calc,
		events:    events,
		publisher: publisher,
		notified:  notified,
		now:       time.Now,
		logger:    logger.Named("deviceage"),
	}, nil
}

// Sweep evaluates the latest valid event of each user and kind and returns the number of notices published
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	published := 0

	for _, kind := range s.calc.Kinds() {
		events, err := s.events.Latest(ctx, kind)
		if err != nil {
			return published, fmt.Errorf("failed to load %s events: %w", kind, err)
		}

		for _, event := range s.latestValid(events) {
			notice, ok := s.calc.Evaluate(kind, event, now)
			if !ok || !s.escalates(event, notice) {
				continue
			}
			if err := s.publisher.PublishNotice(ctx, notice); err != nil {
				s.logger.Error("Failed to publish device age notice",
					zap.String("user_id", notice.UserID),
					zap.String("kind", string(kind)),
					zap.Error(err))
				continue
			}
			s.notified.Add(notifiedKey{notice.UserID, kind}, notifiedState{event.ID, notice.Severity})
			metrics.DeviceAgeNoticesTotal.WithLabelValues(string(kind), string(notice.Severity)).Inc()
			published++
		}
	}

	if published > 0 {
		s.logger.Info("Device age sweep completed", zap.Int("notices", published))
	}
	return published, nil
}

// latestValid keeps, per user, the most recent event whose type resets the device age
func (s *Sweeper) latestValid(events []model.DeviceEvent) []model.DeviceEvent {
	latest := make(map[string]model.DeviceEvent)
	var order []string
	for _, event := range events {
		if !s.calc.ValidEvent(event) {
			continue
		}
		current, seen := latest[event.UserID]
		if !seen {
			order = append(order, event.UserID)
		}
		if !seen || event.OccurredAt.After(current.OccurredAt) {
			latest[event.UserID] = event
		}
	}

	out := make([]model.DeviceEvent, 0, len(order))
	for _, userID := range order {
		out = append(out, latest[userID])
	}
	return out
}

// escalates reports whether the notice is new for this device or more severe than the last one
func (s *Sweeper) escalates(event model.DeviceEvent, notice model.DeviceAgeNotice) bool {
	last, ok := s.notified.Get(notifiedKey{event.UserID, event.Kind})
	if !ok || last.eventID != event.ID {
		return true
	}
	return severityRank(notice.Severity) > severityRank(last.severity)
}

func severityRank(severity model.AlertSeverity) int {
	switch severity {
	case model.AlertSeverityInfo:
		return 1
	case model.AlertSeverityWarn:
		return 2
	case model.AlertSeverityUrgent:
		return 3
	default:
		return 0
	}
}
