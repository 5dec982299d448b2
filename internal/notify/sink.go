package notify

import (
	"context"

	"github.com/t77yq/glucose-alerts/internal/model"
)

// Sink delivers alert events to one destination
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event model.AlertEvent) error
}
