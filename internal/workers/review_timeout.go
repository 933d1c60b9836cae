package workers

import (
	"context"
	"time"

	"marketintel/internal/domain/run"
	"marketintel/internal/metrics"
	"marketintel/pkg/errors"
)

// sweepPageSize bounds how many run summaries a sweep reads per store call.
const sweepPageSize = 100

// ActivityChecker reports whether a run is held by a live controller in this
// process. Sweeps skip active runs so they never race an attended gate.
type ActivityChecker interface {
	IsActive(runID string) bool
}

// ReviewTimeoutWorker fails runs that have sat at the review gate past the
// configured deadline with nothing attending them. Such runs are typically
// left behind by a restart while a reviewer decision was pending.
type ReviewTimeoutWorker struct {
	*BaseWorker

	store    run.CheckpointStore
	activity ActivityChecker
	timeout  time.Duration
}

// NewReviewTimeoutWorker creates the review timeout sweep. A zero timeout
// means reviews wait indefinitely, so the worker disables itself.
func NewReviewTimeoutWorker(store run.CheckpointStore, activity ActivityChecker, timeout, interval time.Duration) *ReviewTimeoutWorker {
	return &ReviewTimeoutWorker{
		BaseWorker: NewBaseWorker("review_timeout", interval, timeout > 0),
		store:      store,
		activity:   activity,
		timeout:    timeout,
	}
}

// Run sweeps stored runs for stale review gates and fails them.
func (w *ReviewTimeoutWorker) Run(ctx context.Context) error {
	stale, err := w.collectStale(ctx)
	if err != nil {
		return err
	}

	expired := 0
	for _, runID := range stale {
		if err := w.expire(ctx, runID); err != nil {
			w.Log().Errorw("Failed to expire stale review", "run_id", runID, "error", err)
			continue
		}
		expired++
	}

	if expired > 0 {
		w.Log().Infow("Expired stale review gates", "count", expired)
	}
	return nil
}

// collectStale pages through run summaries before touching any of them, so
// the writes below cannot shift pagination mid-sweep.
func (w *ReviewTimeoutWorker) collectStale(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-w.timeout)

	var stale []string
	for offset := 0; ; offset += sweepPageSize {
		summaries, err := w.store.ListRuns(ctx, sweepPageSize, offset)
		if err != nil {
			return nil, errors.Wrap(err, "list runs")
		}
		if len(summaries) == 0 {
			break
		}

		for _, sum := range summaries {
			if sum.Status != run.StatusAwaitingReview {
				continue
			}
			if sum.UpdatedAt.After(cutoff) {
				continue
			}
			if w.activity != nil && w.activity.IsActive(sum.RunID) {
				continue
			}
			stale = append(stale, sum.RunID)
		}

		if len(summaries) < sweepPageSize {
			break
		}
	}
	return stale, nil
}

func (w *ReviewTimeoutWorker) expire(ctx context.Context, runID string) error {
	cp, err := w.store.Load(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "load checkpoint")
	}
	st, err := cp.DecodeState()
	if err != nil {
		return errors.Wrap(err, "decode state")
	}

	// The summary may be older than the latest checkpoint. Re-check before
	// writing.
	if st.Status != run.StatusAwaitingReview {
		return nil
	}

	st.RecordError(run.StepReview, errors.Wrapf(errors.ErrReviewTimeout,
		"no review decision within %s of drafting", w.timeout))
	st.Status = run.StatusFailed

	next, err := run.NewCheckpoint(st, cp.Sequence+1)
	if err != nil {
		return errors.Wrap(err, "build checkpoint")
	}
	saveErr := w.store.Save(ctx, next)
	metrics.RecordCheckpointSave(saveErr)
	if saveErr != nil {
		return errors.Wrap(saveErr, "save checkpoint")
	}

	metrics.RunsFinished.WithLabelValues("failed").Inc()
	w.Log().Warnw("Review gate timed out, run failed",
		"run_id", runID,
		"subject", st.Subject,
		"timeout", w.timeout.String(),
	)
	return nil
}
