package workflow

import (
	"context"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

// Resume rebuilds a controller from the latest checkpoint of runID. The run
// re-enters at the step after the last checkpointed one, reusing every
// computed field in the snapshot; spend carried in the checkpoint seeds the
// cost guard so the budget keeps its meaning across restarts.
//
// ErrNotFound passes through untouched so callers can fall back to a fresh
// run. Resuming a run that already finished returns ErrInvalidState.
func Resume(ctx context.Context, cfg Config, deps Deps, runID string) (*Controller, error) {
	cp, err := deps.Store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	st, err := cp.DecodeState()
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrInvalidState,
			"run %s already finished with status %s", runID, st.Status)
	}

	logger.Get().With("component", "workflow").Infow("Resuming run from checkpoint",
		"run_id", runID,
		"sequence", cp.Sequence,
		"step", cp.Step,
		"status", cp.Status,
		"spent", st.TotalCost.StringFixed(4),
	)

	return newController(cfg, deps, st, cp.Sequence, true), nil
}

// ResumeAt rebuilds a controller from an exact checkpoint sequence, replaying
// the run from that snapshot. Later checkpoints are overwritten as the run
// advances past them.
func ResumeAt(ctx context.Context, cfg Config, deps Deps, runID string, sequence int) (*Controller, error) {
	cp, err := deps.Store.LoadAt(ctx, runID, sequence)
	if err != nil {
		return nil, err
	}

	st, err := cp.DecodeState()
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrInvalidState,
			"checkpoint %d of run %s is terminal", sequence, runID)
	}

	return newController(cfg, deps, st, cp.Sequence, true), nil
}

// LatestState loads the most recent persisted state of a run without
// constructing a controller. Used by status queries and the review sweep.
func LatestState(ctx context.Context, store run.CheckpointStore, runID string) (*run.State, error) {
	cp, err := store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return cp.DecodeState()
}
