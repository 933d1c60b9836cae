package memory

import (
	"context"
	"sort"
	"sync"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

var _ run.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore is an in-memory checkpoint store for tests and ephemeral
// runs. Data is lost when the process exits.
type CheckpointStore struct {
	mu     sync.RWMutex
	runs   map[string]map[int][]byte // runID -> sequence -> encoded checkpoint
	closed bool
}

// NewCheckpointStore creates an empty in-memory store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		runs: make(map[string]map[int][]byte),
	}
}

// Save stores a checkpoint, replacing any prior write for the same
// (run_id, sequence). Checkpoints are kept encoded so callers cannot mutate
// stored state through retained pointers.
func (m *CheckpointStore) Save(ctx context.Context, cp *run.Checkpoint) error {
	if cp == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil checkpoint")
	}

	data, err := cp.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	if m.runs[cp.RunID] == nil {
		m.runs[cp.RunID] = make(map[int][]byte)
	}
	m.runs[cp.RunID][cp.Sequence] = data

	return nil
}

// Load returns the checkpoint with the highest sequence for the run.
func (m *CheckpointStore) Load(ctx context.Context, runID string) (*run.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	seqs, ok := m.runs[runID]
	if !ok || len(seqs) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no checkpoints for run %s", runID)
	}

	max := -1
	for seq := range seqs {
		if seq > max {
			max = seq
		}
	}

	return run.DecodeCheckpoint(seqs[max])
}

// LoadAt returns the checkpoint at an exact sequence.
func (m *CheckpointStore) LoadAt(ctx context.Context, runID string, sequence int) (*run.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	seqs, ok := m.runs[runID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no checkpoints for run %s", runID)
	}

	data, ok := seqs[sequence]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "no checkpoint %d for run %s", sequence, runID)
	}

	return run.DecodeCheckpoint(data)
}

// List returns all checkpoints for a run in ascending sequence order.
func (m *CheckpointStore) List(ctx context.Context, runID string) ([]*run.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	seqs, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}

	cps := make([]*run.Checkpoint, 0, len(seqs))
	for _, data := range seqs {
		cp, err := run.DecodeCheckpoint(data)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}

	sort.Slice(cps, func(i, j int) bool { return cps[i].Sequence < cps[j].Sequence })

	return cps, nil
}

// ListRuns returns run summaries newest-first, derived from each run's
// latest checkpoint.
func (m *CheckpointStore) ListRuns(ctx context.Context, limit, offset int) ([]*run.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	summaries := make([]*run.Summary, 0, len(m.runs))
	for runID, seqs := range m.runs {
		max := -1
		for seq := range seqs {
			if seq > max {
				max = seq
			}
		}
		if max < 0 {
			continue
		}

		cp, err := run.DecodeCheckpoint(seqs[max])
		if err != nil {
			return nil, err
		}
		st, err := cp.DecodeState()
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, &run.Summary{
			RunID:     runID,
			Subject:   st.Subject,
			Status:    st.Status,
			Cost:      st.TotalCost,
			CreatedAt: st.CreatedAt,
			UpdatedAt: cp.TakenAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	if offset >= len(summaries) {
		return nil, nil
	}
	summaries = summaries[offset:]
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}

	return summaries, nil
}

// Delete removes all checkpoints for a run.
func (m *CheckpointStore) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Wrap(errors.ErrUnavailable, "checkpoint store closed")
	}

	delete(m.runs, runID)
	return nil
}

// Close releases the store. Further calls fail.
func (m *CheckpointStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the total number of checkpoints across all runs. Useful for
// tests.
func (m *CheckpointStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, seqs := range m.runs {
		count += len(seqs)
	}
	return count
}
