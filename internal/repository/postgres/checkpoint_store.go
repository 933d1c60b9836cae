package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id     TEXT        NOT NULL,
	sequence   INTEGER     NOT NULL,
	version    INTEGER     NOT NULL,
	step       TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	subject    TEXT        NOT NULL,
	cost       NUMERIC     NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	taken_at   TIMESTAMPTZ NOT NULL,
	state      JSONB       NOT NULL,
	PRIMARY KEY (run_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_run_checkpoints_created_at ON run_checkpoints(created_at DESC);
`

var _ run.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore persists checkpoints to PostgreSQL for shared deployments.
type CheckpointStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewCheckpointStore creates the store and ensures its schema exists.
func NewCheckpointStore(db *sqlx.DB) (*CheckpointStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "create checkpoint schema")
	}

	return &CheckpointStore{
		db:  db,
		log: logger.Get().With("component", "pg_checkpoint_store"),
	}, nil
}

// Save stores a checkpoint, replacing any prior write for the same
// (run_id, sequence).
func (r *CheckpointStore) Save(ctx context.Context, cp *run.Checkpoint) error {
	if cp == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil checkpoint")
	}

	st, err := cp.DecodeState()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO run_checkpoints (run_id, sequence, version, step, status, subject, cost, created_at, taken_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, sequence) DO UPDATE SET
			version = EXCLUDED.version,
			step = EXCLUDED.step,
			status = EXCLUDED.status,
			subject = EXCLUDED.subject,
			cost = EXCLUDED.cost,
			created_at = EXCLUDED.created_at,
			taken_at = EXCLUDED.taken_at,
			state = EXCLUDED.state
	`

	_, err = r.db.ExecContext(ctx, query,
		cp.RunID,
		cp.Sequence,
		cp.Version,
		string(cp.Step),
		string(cp.Status),
		st.Subject,
		st.TotalCost.String(),
		st.CreatedAt,
		cp.TakenAt,
		[]byte(cp.State),
	)
	if err != nil {
		return errors.Wrap(err, "failed to save checkpoint")
	}

	return nil
}

// Load returns the checkpoint with the highest sequence for the run.
func (r *CheckpointStore) Load(ctx context.Context, runID string) (*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = $1
		ORDER BY sequence DESC
		LIMIT 1
	`

	return r.queryOne(ctx, query, runID)
}

// LoadAt returns the checkpoint at an exact sequence.
func (r *CheckpointStore) LoadAt(ctx context.Context, runID string, sequence int) (*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = $1 AND sequence = $2
	`

	return r.queryOne(ctx, query, runID, sequence)
}

// List returns all checkpoints for a run in ascending sequence order.
func (r *CheckpointStore) List(ctx context.Context, runID string) ([]*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	defer rows.Close()

	var cps []*run.Checkpoint
	for rows.Next() {
		var (
			cp     run.Checkpoint
			step   string
			status string
			state  []byte
		)
		if err := rows.Scan(&cp.RunID, &cp.Sequence, &cp.Version, &step, &status, &cp.TakenAt, &state); err != nil {
			return nil, errors.Wrap(err, "failed to scan checkpoint")
		}
		cp.Step = run.Step(step)
		cp.Status = run.Status(status)
		cp.State = state
		cps = append(cps, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate checkpoints")
	}

	return cps, nil
}

// ListRuns returns run summaries newest-first from each run's latest
// checkpoint.
func (r *CheckpointStore) ListRuns(ctx context.Context, limit, offset int) ([]*run.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT DISTINCT ON (run_id)
			run_id, subject, status, cost, created_at, taken_at
		FROM run_checkpoints
		ORDER BY run_id, sequence DESC
	`

	// DISTINCT ON picks the latest checkpoint per run; the outer query orders
	// those newest-first and pages.
	paged := `
		SELECT run_id, subject, status, cost, created_at, taken_at
		FROM (` + query + `) latest
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, paged, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var summaries []*run.Summary
	for rows.Next() {
		var (
			sum    run.Summary
			status string
			cost   string
		)
		if err := rows.Scan(&sum.RunID, &sum.Subject, &status, &cost, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan run summary")
		}

		sum.Status = run.Status(status)
		sum.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid cost %q for run %s", cost, sum.RunID)
		}

		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate run summaries")
	}

	return summaries, nil
}

// Delete removes all checkpoints for a run.
func (r *CheckpointStore) Delete(ctx context.Context, runID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM run_checkpoints WHERE run_id = $1`, runID); err != nil {
		return errors.Wrap(err, "failed to delete run checkpoints")
	}
	return nil
}

// Close is a no-op; the shared DB handle is owned by the caller.
func (r *CheckpointStore) Close() error {
	return nil
}

func (r *CheckpointStore) queryOne(ctx context.Context, query string, args ...interface{}) (*run.Checkpoint, error) {
	var (
		cp     run.Checkpoint
		step   string
		status string
		state  []byte
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&cp.RunID,
		&cp.Sequence,
		&cp.Version,
		&step,
		&status,
		&cp.TakenAt,
		&state,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(errors.ErrNotFound, "checkpoint not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load checkpoint")
	}

	cp.Step = run.Step(step)
	cp.Status = run.Status(status)
	cp.State = state

	return &cp, nil
}
