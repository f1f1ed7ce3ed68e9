package retention

import (
	"context"
	"time"
)

// Pruner is the slice of the store the janitor needs.
type Pruner interface {
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Janitor deletes conversation rows past the retention window on a fixed
// interval.
type Janitor struct {
	pruner   Pruner
	maxAge   time.Duration
	interval time.Duration
	onSweep  func(removed int64, err error)
}

func NewJanitor(pruner Pruner, maxAge, interval time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = 90 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{pruner: pruner, maxAge: maxAge, interval: interval}
}

// SetSweepHook installs a callback invoked after every sweep with its
// outcome.
func (j *Janitor) SetSweepHook(hook func(removed int64, err error)) {
	j.onSweep = hook
}

// RunOnce performs a single retention sweep.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	removed, err := j.pruner.PruneOlderThan(ctx, j.maxAge)
	if j.onSweep != nil {
		j.onSweep(removed, err)
	}
	return removed, err
}

// Start sweeps immediately, then on every tick until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		j.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}
