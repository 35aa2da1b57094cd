package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cratemind/internal/logging"
	"cratemind/internal/services"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
	ran   chan struct{}
}

func (r *countingRunner) Run(context.Context) (Report, error) {
	if r.calls.Add(1) == 1 {
		close(r.ran)
	}
	return Report{}, r.err
}

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"conflict", services.Wrap(services.ErrConflict, "discovery", "lock", "held", nil)},
		{"failure", errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &countingRunner{err: tc.err, ran: make(chan struct{})}
			sched := NewScheduler(runner, time.Hour, logging.NewNop())
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- sched.Run(ctx) }()

			select {
			case <-runner.ran:
			case <-time.After(5 * time.Second):
				t.Fatal("scheduler did not run immediately")
			}
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Run returned %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("scheduler did not stop")
			}
			if got := runner.calls.Load(); got != 1 {
				t.Fatalf("expected one run before the first tick, got %d", got)
			}
		})
	}
}

func TestSchedulerTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &countingRunner{ran: make(chan struct{})}
	sched := NewScheduler(runner, 10*time.Millisecond, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for runner.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if runner.calls.Load() < 3 {
		t.Fatalf("expected repeated runs, got %d", runner.calls.Load())
	}
}

func TestSchedulerRejectsNonPositiveInterval(t *testing.T) {
	sched := NewScheduler(&countingRunner{ran: make(chan struct{})}, 0, logging.NewNop())
	if err := sched.Run(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
