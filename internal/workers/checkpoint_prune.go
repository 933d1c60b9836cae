package workers

import (
	"context"
	"time"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

// CheckpointPruneWorker deletes the checkpoint history of finished runs once
// they age past the retention window. Runs still in flight are never touched.
type CheckpointPruneWorker struct {
	*BaseWorker

	store     run.CheckpointStore
	retention time.Duration
}

// NewCheckpointPruneWorker creates the retention sweep. A zero retention
// keeps checkpoints forever and disables the worker.
func NewCheckpointPruneWorker(store run.CheckpointStore, retention, interval time.Duration) *CheckpointPruneWorker {
	return &CheckpointPruneWorker{
		BaseWorker: NewBaseWorker("checkpoint_prune", interval, retention > 0),
		store:      store,
		retention:  retention,
	}
}

// Run deletes terminal runs whose last checkpoint is older than the
// retention window.
func (w *CheckpointPruneWorker) Run(ctx context.Context) error {
	expired, err := w.collectExpired(ctx)
	if err != nil {
		return err
	}

	pruned := 0
	for _, runID := range expired {
		if err := w.store.Delete(ctx, runID); err != nil {
			w.Log().Errorw("Failed to prune run checkpoints", "run_id", runID, "error", err)
			continue
		}
		pruned++
	}

	if pruned > 0 {
		w.Log().Infow("Pruned expired run checkpoints", "count", pruned)
	}
	return nil
}

// collectExpired pages through summaries before deleting anything, since
// deletes would shift pagination offsets under the sweep.
func (w *CheckpointPruneWorker) collectExpired(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-w.retention)

	var expired []string
	for offset := 0; ; offset += sweepPageSize {
		summaries, err := w.store.ListRuns(ctx, sweepPageSize, offset)
		if err != nil {
			return nil, errors.Wrap(err, "list runs")
		}
		if len(summaries) == 0 {
			break
		}

		for _, sum := range summaries {
			if !sum.Status.Terminal() {
				continue
			}
			if sum.UpdatedAt.After(cutoff) {
				continue
			}
			expired = append(expired, sum.RunID)
		}

		if len(summaries) < sweepPageSize {
			break
		}
	}
	return expired, nil
}
