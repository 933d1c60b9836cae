package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/pkg/errors"
)

// tickWorker counts iterations and optionally delegates to a run func.
type tickWorker struct {
	*BaseWorker
	runs    atomic.Int32
	runFunc func(ctx context.Context) error
}

func newTickWorker(name string, interval time.Duration, enabled bool) *tickWorker {
	return &tickWorker{
		BaseWorker: NewBaseWorker(name, interval, enabled),
	}
}

func (w *tickWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.runFunc != nil {
		return w.runFunc(ctx)
	}
	return nil
}

func TestSchedulerRunsWorkersOnInterval(t *testing.T) {
	sched := NewScheduler()
	worker := newTickWorker("sweep", 50*time.Millisecond, true)
	sched.RegisterWorker(worker)

	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.IsRunning())

	time.Sleep(180 * time.Millisecond)

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())

	// One immediate run plus at least two ticks.
	assert.GreaterOrEqual(t, int(worker.runs.Load()), 3)
}

func TestSchedulerSkipsDisabledWorkers(t *testing.T) {
	sched := NewScheduler()
	enabled := newTickWorker("enabled", 50*time.Millisecond, true)
	disabled := newTickWorker("disabled", 50*time.Millisecond, false)
	sched.RegisterWorker(enabled)
	sched.RegisterWorker(disabled)

	require.NoError(t, sched.Start(context.Background()))
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, sched.Stop())

	assert.Greater(t, int(enabled.runs.Load()), 0)
	assert.Equal(t, 0, int(disabled.runs.Load()))
}

func TestSchedulerStartTwiceFails(t *testing.T) {
	sched := NewScheduler()
	sched.RegisterWorker(newTickWorker("once", time.Second, true))

	require.NoError(t, sched.Start(context.Background()))
	err := sched.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	require.NoError(t, sched.Stop())
}

func TestSchedulerStopWithoutStartFails(t *testing.T) {
	err := NewScheduler().Stop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestSchedulerContinuesAfterWorkerError(t *testing.T) {
	sched := NewScheduler()
	worker := newTickWorker("flaky", 40*time.Millisecond, true)
	worker.runFunc = func(ctx context.Context) error {
		return errors.New("sweep failed")
	}
	sched.RegisterWorker(worker)

	require.NoError(t, sched.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, sched.Stop())

	assert.GreaterOrEqual(t, int(worker.runs.Load()), 2)
}

func TestSchedulerRecoversFromWorkerPanic(t *testing.T) {
	sched := NewScheduler()
	worker := newTickWorker("panicky", 40*time.Millisecond, true)
	worker.runFunc = func(ctx context.Context) error {
		panic("sweep exploded")
	}
	sched.RegisterWorker(worker)

	require.NoError(t, sched.Start(context.Background()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, sched.Stop())

	// The panic is contained per iteration, so the loop keeps ticking.
	assert.GreaterOrEqual(t, int(worker.runs.Load()), 2)
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	sched := NewScheduler()
	worker := newTickWorker("cancellable", 30*time.Millisecond, true)
	sched.RegisterWorker(worker)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))

	time.Sleep(80 * time.Millisecond)
	cancel()
	time.Sleep(80 * time.Millisecond)

	settled := int(worker.runs.Load())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, int(worker.runs.Load()))

	require.NoError(t, sched.Stop())
}

func TestSchedulerIgnoresRegistrationAfterStart(t *testing.T) {
	sched := NewScheduler()
	sched.RegisterWorker(newTickWorker("early", time.Second, true))

	require.NoError(t, sched.Start(context.Background()))
	sched.RegisterWorker(newTickWorker("late", time.Second, true))
	require.NoError(t, sched.Stop())

	workers := sched.GetWorkers()
	require.Len(t, workers, 1)
	assert.Equal(t, "early", workers[0].Name())
}

func TestSchedulerListsWorkersInRegistrationOrder(t *testing.T) {
	sched := NewScheduler()
	sched.RegisterWorker(newTickWorker("first", time.Second, true))
	sched.RegisterWorker(newTickWorker("second", 2*time.Second, false))

	workers := sched.GetWorkers()
	require.Len(t, workers, 2)
	assert.Equal(t, "first", workers[0].Name())
	assert.Equal(t, "second", workers[1].Name())
}
