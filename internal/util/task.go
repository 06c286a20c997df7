package util

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Task is a cancellable repeating unit of work. Pairing polls, heartbeats
// and config polls are all Tasks.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs Fn once before waiting for the first tick.
	Immediate bool
	// Trigger, when signaled, runs Fn out of cycle. The regular schedule is kept.
	Trigger <-chan struct{}
	// Clock defaults to the real clock.
	Clock clock.WithTicker
	Fn    func(ctx context.Context)
}

// Run blocks, calling Fn on every tick until ctx is done. Fn runs on the
// Task's own goroutine so a slow call only delays this Task.
func (t Task) Run(ctx context.Context) {
	clk := t.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	if t.Immediate && ctx.Err() == nil {
		t.Fn(ctx)
	}
	ticker := clk.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-t.Trigger:
		}
		if ctx.Err() != nil {
			return
		}
		t.Fn(ctx)
	}
}

// Start runs the Task on a goroutine tracked by wg. The returned func stops it.
func (t Task) Start(ctx context.Context, wg *sync.WaitGroup) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	GoWithWaitGroup(wg, func() {
		t.Run(ctx)
	})
	return cancel
}
