package notify

import (
	"context"
	"fmt"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// AlertStore persists delivered alert events
type AlertStore interface {
	Store(ctx context.Context, event model.AlertEvent) error
}

// PersistSink records every alert event in the alert history
type PersistSink struct {
	store AlertStore
}

// NewPersistSink creates a sink backed by store
func NewPersistSink(store AlertStore) *PersistSink {
	return &PersistSink{store: store}
}

func (s *PersistSink) Name() string { return "history" }

func (s *PersistSink) Deliver(ctx context.Context, event model.AlertEvent) error {
	if err := s.store.Store(ctx, event); err != nil {
		return fmt.Errorf("failed to store alert %s: %w", event.ID, err)
	}
	return nil
}
