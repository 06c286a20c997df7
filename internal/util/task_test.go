package util_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marquee-signage/marquee/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestTaskImmediateTickAndTrigger(t *testing.T) {
	require := require.New(t)
	clk := testingclock.NewFakeClock(time.Now())
	trigger := make(chan struct{}, 1)
	calls := atomic.Int32{}

	wg := &sync.WaitGroup{}
	stop := util.Task{
		Name:      "test",
		Interval:  5 * time.Second,
		Immediate: true,
		Trigger:   trigger,
		Clock:     clk,
		Fn:        func(context.Context) { calls.Add(1) },
	}.Start(context.Background(), wg)

	require.Eventually(func() bool { return calls.Load() == 1 && clk.HasWaiters() }, time.Second, time.Millisecond)

	clk.Step(5 * time.Second)
	require.Eventually(func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	trigger <- struct{}{}
	require.Eventually(func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)

	stop()
	wg.Wait()
	clk.Step(5 * time.Second)
	require.Equal(int32(3), calls.Load())
}

func TestTaskStoppedBeforeImmediateRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	util.Task{
		Interval:  time.Second,
		Immediate: true,
		Fn:        func(context.Context) { called = true },
	}.Run(ctx)
	assert.False(t, called)
}
