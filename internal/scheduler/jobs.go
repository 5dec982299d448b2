package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pruner deletes records older than a cutoff
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) error
}

// Sweeper runs one device age sweep
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// PruneJob deletes records older than retention from every pruner
func PruneJob(retention time.Duration, pruners ...Pruner) JobFunc {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		var errs []error
		for _, p := range pruners {
			if err := p.DeleteBefore(ctx, cutoff); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// SweepJob runs a device age sweep
func SweepJob(sweeper Sweeper) JobFunc {
	return func(ctx context.Context) error {
		if _, err := sweeper.Sweep(ctx); err != nil {
			return fmt.Errorf("device age sweep failed: %w", err)
		}
		return nil
	}
}
