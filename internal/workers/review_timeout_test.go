package workers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain/run"
	"marketintel/internal/repository/memory"
)

// seedRun stores a checkpoint for a run in the given status, backdated so
// its last write appears `age` in the past.
func seedRun(t *testing.T, store run.CheckpointStore, runID string, status run.Status, age time.Duration, seq int) {
	t.Helper()

	st := run.NewState(runID, "Acme Robotics", "robotics", "openai/gpt-5-mini", decimal.NewFromFloat(2))
	st.Status = status
	switch status {
	case run.StatusAwaitingReview:
		st.CurrentStep = run.StepWriting
	case run.StatusCompleted:
		st.CurrentStep = run.StepDone
		st.Approved = true
	}

	cp, err := run.NewCheckpoint(st, seq)
	require.NoError(t, err)
	cp.TakenAt = time.Now().UTC().Add(-age)
	require.NoError(t, store.Save(context.Background(), cp))
}

type fakeActivity map[string]bool

func (f fakeActivity) IsActive(runID string) bool { return f[runID] }

func TestReviewTimeoutWorkerExpiresStaleRun(t *testing.T) {
	store := memory.NewCheckpointStore()
	seedRun(t, store, "run-stale", run.StatusAwaitingReview, 2*time.Hour, 3)

	worker := NewReviewTimeoutWorker(store, nil, time.Hour, time.Minute)
	require.True(t, worker.Enabled())
	require.NoError(t, worker.Run(context.Background()))

	cp, err := store.Load(context.Background(), "run-stale")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Sequence)

	st, err := cp.DecodeState()
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, st.Status)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, run.StepReview, st.Errors[0].Step)
	assert.Contains(t, st.Errors[0].Message, "no review decision")
}

func TestReviewTimeoutWorkerKeepsFreshRun(t *testing.T) {
	store := memory.NewCheckpointStore()
	seedRun(t, store, "run-fresh", run.StatusAwaitingReview, 10*time.Minute, 3)

	worker := NewReviewTimeoutWorker(store, nil, time.Hour, time.Minute)
	require.NoError(t, worker.Run(context.Background()))

	cp, err := store.Load(context.Background(), "run-fresh")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Sequence)

	st, err := cp.DecodeState()
	require.NoError(t, err)
	assert.Equal(t, run.StatusAwaitingReview, st.Status)
}

func TestReviewTimeoutWorkerSkipsAttendedRun(t *testing.T) {
	store := memory.NewCheckpointStore()
	seedRun(t, store, "run-live", run.StatusAwaitingReview, 2*time.Hour, 3)

	activity := fakeActivity{"run-live": true}
	worker := NewReviewTimeoutWorker(store, activity, time.Hour, time.Minute)
	require.NoError(t, worker.Run(context.Background()))

	cp, err := store.Load(context.Background(), "run-live")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Sequence)
}

func TestReviewTimeoutWorkerIgnoresOtherStatuses(t *testing.T) {
	store := memory.NewCheckpointStore()
	seedRun(t, store, "run-done", run.StatusCompleted, 2*time.Hour, 5)
	seedRun(t, store, "run-working", run.StatusResearching, 2*time.Hour, 1)

	worker := NewReviewTimeoutWorker(store, nil, time.Hour, time.Minute)
	require.NoError(t, worker.Run(context.Background()))

	for runID, seq := range map[string]int{"run-done": 5, "run-working": 1} {
		cp, err := store.Load(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, seq, cp.Sequence, runID)
	}
}

func TestReviewTimeoutWorkerDisabledWithoutDeadline(t *testing.T) {
	worker := NewReviewTimeoutWorker(memory.NewCheckpointStore(), nil, 0, time.Minute)
	assert.False(t, worker.Enabled())
}

func TestReviewTimeoutWorkerExpiresManyRuns(t *testing.T) {
	store := memory.NewCheckpointStore()
	for i := 0; i < 5; i++ {
		seedRun(t, store, fmt.Sprintf("run-batch-%d", i), run.StatusAwaitingReview, 3*time.Hour, 2)
	}
	seedRun(t, store, "run-recent", run.StatusAwaitingReview, time.Minute, 2)

	worker := NewReviewTimeoutWorker(store, nil, time.Hour, time.Minute)
	require.NoError(t, worker.Run(context.Background()))

	for i := 0; i < 5; i++ {
		cp, err := store.Load(context.Background(), fmt.Sprintf("run-batch-%d", i))
		require.NoError(t, err)
		st, err := cp.DecodeState()
		require.NoError(t, err)
		assert.Equal(t, run.StatusFailed, st.Status)
	}

	cp, err := store.Load(context.Background(), "run-recent")
	require.NoError(t, err)
	st, err := cp.DecodeState()
	require.NoError(t, err)
	assert.Equal(t, run.StatusAwaitingReview, st.Status)
}
