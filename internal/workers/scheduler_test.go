package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaflow/pkg/errors"
)

type stubWorker struct {
	*BaseWorker
	runs    atomic.Int32
	runFunc func(ctx context.Context) error
}

func newStubWorker(name string, interval time.Duration, enabled bool) *stubWorker {
	return &stubWorker{BaseWorker: NewBaseWorker(name, interval, enabled)}
}

func (w *stubWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.runFunc != nil {
		return w.runFunc(ctx)
	}
	return nil
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler()
	worker := newStubWorker("sweep", 50*time.Millisecond, true)
	scheduler.RegisterWorker(worker)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.True(t, scheduler.IsRunning())

	assert.Eventually(t, func() bool { return worker.runs.Load() >= 2 }, time.Second, 10*time.Millisecond,
		"runs immediately and then on every tick")

	require.NoError(t, scheduler.Stop())
	assert.False(t, scheduler.IsRunning())
}

func TestScheduler_DisabledWorkerNeverRuns(t *testing.T) {
	scheduler := NewScheduler()
	enabled := newStubWorker("enabled", 20*time.Millisecond, true)
	disabled := newStubWorker("disabled", 20*time.Millisecond, false)
	scheduler.RegisterWorker(enabled)
	scheduler.RegisterWorker(disabled)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Eventually(t, func() bool { return enabled.runs.Load() > 0 }, time.Second, 10*time.Millisecond)
	require.NoError(t, scheduler.Stop())

	assert.Zero(t, disabled.runs.Load())
}

func TestScheduler_RecordsHealth(t *testing.T) {
	scheduler := NewScheduler()
	failing := newStubWorker("failing", time.Hour, true)
	failing.runFunc = func(ctx context.Context) error { return errors.New("store unavailable") }
	panicking := newStubWorker("panicking", time.Hour, true)
	panicking.runFunc = func(ctx context.Context) error { panic("boom") }
	healthy := newStubWorker("healthy", time.Hour, true)

	scheduler.RegisterWorker(failing)
	scheduler.RegisterWorker(panicking)
	scheduler.RegisterWorker(healthy)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return failing.Health().RunCount == 1 && panicking.Health().RunCount == 1 && healthy.Health().RunCount == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, scheduler.Stop())

	assert.Equal(t, int64(1), failing.Health().ErrorCount)
	assert.EqualError(t, failing.Health().LastError, "store unavailable")

	assert.Equal(t, int64(1), panicking.Health().ErrorCount)
	assert.ErrorIs(t, panicking.Health().LastError, errors.ErrInternal)

	assert.Zero(t, healthy.Health().ErrorCount)
	assert.NoError(t, healthy.Health().LastError)
	assert.False(t, healthy.Health().LastRun.IsZero())
}

func TestScheduler_ContextCancellation(t *testing.T) {
	scheduler := NewScheduler()
	scheduler.RegisterWorker(newStubWorker("sweep", 20*time.Millisecond, true))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	require.NoError(t, scheduler.Stop(), "stop works after the parent context is gone")
}

func TestScheduler_CannotStartTwice(t *testing.T) {
	scheduler := NewScheduler()
	scheduler.RegisterWorker(newStubWorker("sweep", time.Hour, true))

	require.NoError(t, scheduler.Start(context.Background()))
	assert.ErrorIs(t, scheduler.Start(context.Background()), errors.ErrInternal)
	require.NoError(t, scheduler.Stop())

	assert.ErrorIs(t, scheduler.Stop(), errors.ErrInternal, "stopping a stopped scheduler")
}

func TestScheduler_RegisterAfterStartIsIgnored(t *testing.T) {
	scheduler := NewScheduler()
	scheduler.RegisterWorker(newStubWorker("first", time.Hour, true))
	require.NoError(t, scheduler.Start(context.Background()))

	scheduler.RegisterWorker(newStubWorker("late", time.Hour, true))
	require.NoError(t, scheduler.Stop())

	workers := scheduler.GetWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "first", workers[0].Name())
}
