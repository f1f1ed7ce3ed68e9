package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePruner struct {
	mu    sync.Mutex
	calls []time.Duration
	ret   int64
	err   error
}

func (f *fakePruner) PruneOlderThan(_ context.Context, age time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, age)
	return f.ret, f.err
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunOncePassesMaxAge(t *testing.T) {
	pruner := &fakePruner{ret: 7}
	j := NewJanitor(pruner, 90*24*time.Hour, time.Hour)

	var hookRemoved int64
	j.SetSweepHook(func(removed int64, err error) {
		hookRemoved = removed
		if err != nil {
			t.Errorf("sweep hook error = %v", err)
		}
	})

	removed, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 7 {
		t.Fatalf("RunOnce() removed = %d, want 7", removed)
	}
	if hookRemoved != 7 {
		t.Fatalf("sweep hook removed = %d, want 7", hookRemoved)
	}
	if pruner.callCount() != 1 || pruner.calls[0] != 90*24*time.Hour {
		t.Fatalf("pruner calls = %v", pruner.calls)
	}
}

func TestRunOnceReportsError(t *testing.T) {
	wantErr := errors.New("db down")
	pruner := &fakePruner{err: wantErr}
	j := NewJanitor(pruner, time.Hour, time.Hour)

	var hookErr error
	j.SetSweepHook(func(_ int64, err error) { hookErr = err })

	if _, err := j.RunOnce(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("RunOnce() error = %v, want %v", err, wantErr)
	}
	if !errors.Is(hookErr, wantErr) {
		t.Fatalf("sweep hook error = %v, want %v", hookErr, wantErr)
	}
}

func TestDefaultsApplied(t *testing.T) {
	pruner := &fakePruner{}
	j := NewJanitor(pruner, 0, 0)

	if _, err := j.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if pruner.calls[0] != 90*24*time.Hour {
		t.Fatalf("default max age = %v, want 90 days", pruner.calls[0])
	}
}

func TestStartSweepsOnInterval(t *testing.T) {
	pruner := &fakePruner{}
	j := NewJanitor(pruner, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	deadline := time.After(2 * time.Second)
	for pruner.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("sweeps = %d, want at least 3", pruner.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := pruner.callCount()
	time.Sleep(50 * time.Millisecond)
	if pruner.callCount() != settled {
		t.Fatal("janitor kept sweeping after cancellation")
	}
}
