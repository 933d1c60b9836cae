// Package storetest holds the behavioral contract every checkpoint store
// implementation must satisfy. Store packages run it against their own
// factories.
package storetest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

// Factory creates a fresh store for one subtest.
type Factory func(t *testing.T) run.CheckpointStore

func newCheckpoint(t *testing.T, runID, subject string, sequence int, status run.Status) *run.Checkpoint {
	t.Helper()

	st := run.NewState(runID, subject, "robotics", "openai/gpt-5-mini", decimal.NewFromFloat(2.0))
	st.Status = status
	st.AddCost(decimal.NewFromFloat(0.01).Mul(decimal.NewFromInt(int64(sequence))))

	cp, err := run.NewCheckpoint(st, sequence)
	require.NoError(t, err)
	return cp
}

// Run exercises the CheckpointStore contract against the given factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("SaveAndLoadLatest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusResearching)))
		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 2, run.StatusAnalyzing)))

		cp, err := store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, 2, cp.Sequence)
		assert.Equal(t, run.StatusAnalyzing, cp.Status)

		st, err := cp.DecodeState()
		require.NoError(t, err)
		assert.Equal(t, "Acme Robotics", st.Subject)
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "run-nonexistent")
		assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	})

	t.Run("LastWriteWinsPerSequence", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		first := newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusResearching)
		second := newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusWriting)

		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, second))

		cp, err := store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, 1, cp.Sequence)
		assert.Equal(t, run.StatusWriting, cp.Status)

		cps, err := store.List(ctx, "run-1")
		require.NoError(t, err)
		assert.Len(t, cps, 1)
	})

	t.Run("LoadAt", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusResearching)))
		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 2, run.StatusAnalyzing)))

		cp, err := store.LoadAt(ctx, "run-1", 1)
		require.NoError(t, err)
		assert.Equal(t, run.StatusResearching, cp.Status)

		_, err = store.LoadAt(ctx, "run-1", 99)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("ListAscending", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for seq := 3; seq >= 1; seq-- {
			require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", seq, run.StatusResearching)))
		}

		cps, err := store.List(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, cps, 3)
		for i, cp := range cps {
			assert.Equal(t, i+1, cp.Sequence)
		}
	})

	t.Run("ListEmptyRun", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cps, err := store.List(ctx, "run-nonexistent")
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		// Creation timestamps come from NewState; save order tracks creation order.
		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-old", "Old Corp", 1, run.StatusCompleted)))
		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-new", "New Corp", 1, run.StatusResearching)))

		sums, err := store.ListRuns(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, sums, 2)
		assert.Equal(t, "run-new", sums[0].RunID)
		assert.Equal(t, "run-old", sums[1].RunID)
		assert.Equal(t, "New Corp", sums[0].Subject)
		assert.Equal(t, run.StatusResearching, sums[0].Status)
	})

	t.Run("ListRunsPagination", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		for _, id := range []string{"run-a", "run-b", "run-c"} {
			require.NoError(t, store.Save(ctx, newCheckpoint(t, id, "Subject "+id, 1, run.StatusCompleted)))
		}

		page, err := store.ListRuns(ctx, 2, 0)
		require.NoError(t, err)
		assert.Len(t, page, 2)

		rest, err := store.ListRuns(ctx, 2, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		beyond, err := store.ListRuns(ctx, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusResearching)))
		require.NoError(t, store.Delete(ctx, "run-1"))

		_, err := store.Load(ctx, "run-1")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("RunsDoNotInterfere", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-1", "Acme Robotics", 1, run.StatusResearching)))
		require.NoError(t, store.Save(ctx, newCheckpoint(t, "run-2", "Initech", 5, run.StatusWriting)))

		cp1, err := store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, 1, cp1.Sequence)

		require.NoError(t, store.Delete(ctx, "run-2"))

		_, err = store.Load(ctx, "run-1")
		assert.NoError(t, err)
	})
}
