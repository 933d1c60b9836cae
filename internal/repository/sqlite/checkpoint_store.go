package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id     TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	version    INTEGER NOT NULL,
	step       TEXT    NOT NULL,
	status     TEXT    NOT NULL,
	subject    TEXT    NOT NULL,
	cost       TEXT    NOT NULL,
	created_at TEXT    NOT NULL,
	taken_at   TEXT    NOT NULL,
	state      BLOB    NOT NULL,
	PRIMARY KEY (run_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_run_checkpoints_run_id ON run_checkpoints(run_id);
`

// Fixed-width so lexicographic ORDER BY on the text column matches
// chronological order (RFC3339Nano trims trailing zeros and does not).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ run.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore persists checkpoints to SQLite. Suitable for
// single-process deployments; the file holds every run's full history.
type CheckpointStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewCheckpointStore opens (or creates) the database at path. ":memory:"
// works for tests.
func NewCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}

	// WAL keeps concurrent readers from blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create checkpoint schema")
	}

	return &CheckpointStore{
		db:  db,
		log: logger.Get().With("component", "sqlite_checkpoint_store"),
	}, nil
}

// Save stores a checkpoint, replacing any prior write for the same
// (run_id, sequence).
func (s *CheckpointStore) Save(ctx context.Context, cp *run.Checkpoint) error {
	if cp == nil {
		return errors.Wrap(errors.ErrInvalidInput, "nil checkpoint")
	}

	st, err := cp.DecodeState()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO run_checkpoints (run_id, sequence, version, step, status, subject, cost, created_at, taken_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, sequence) DO UPDATE SET
			version = excluded.version,
			step = excluded.step,
			status = excluded.status,
			subject = excluded.subject,
			cost = excluded.cost,
			created_at = excluded.created_at,
			taken_at = excluded.taken_at,
			state = excluded.state
	`

	_, err = s.db.ExecContext(ctx, query,
		cp.RunID,
		cp.Sequence,
		cp.Version,
		string(cp.Step),
		string(cp.Status),
		st.Subject,
		st.TotalCost.String(),
		st.CreatedAt.UTC().Format(timeLayout),
		cp.TakenAt.UTC().Format(timeLayout),
		[]byte(cp.State),
	)
	if err != nil {
		return errors.Wrap(err, "save checkpoint")
	}

	return nil
}

// Load returns the checkpoint with the highest sequence for the run.
func (s *CheckpointStore) Load(ctx context.Context, runID string) (*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`

	return s.queryOne(ctx, query, runID)
}

// LoadAt returns the checkpoint at an exact sequence.
func (s *CheckpointStore) LoadAt(ctx context.Context, runID string, sequence int) (*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = ? AND sequence = ?
	`

	return s.queryOne(ctx, query, runID, sequence)
}

// List returns all checkpoints for a run in ascending sequence order.
func (s *CheckpointStore) List(ctx context.Context, runID string) ([]*run.Checkpoint, error) {
	query := `
		SELECT run_id, sequence, version, step, status, taken_at, state
		FROM run_checkpoints
		WHERE run_id = ?
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, errors.Wrap(err, "list checkpoints")
	}
	defer rows.Close()

	var cps []*run.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate checkpoints")
	}

	return cps, nil
}

// ListRuns returns run summaries newest-first from each run's latest
// checkpoint.
func (s *CheckpointStore) ListRuns(ctx context.Context, limit, offset int) ([]*run.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT c.run_id, c.subject, c.status, c.cost, c.created_at, c.taken_at
		FROM run_checkpoints c
		JOIN (
			SELECT run_id, MAX(sequence) AS max_seq
			FROM run_checkpoints
			GROUP BY run_id
		) latest ON c.run_id = latest.run_id AND c.sequence = latest.max_seq
		ORDER BY c.created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var summaries []*run.Summary
	for rows.Next() {
		var (
			sum       run.Summary
			status    string
			cost      string
			createdAt string
			takenAt   string
		)
		if err := rows.Scan(&sum.RunID, &sum.Subject, &status, &cost, &createdAt, &takenAt); err != nil {
			return nil, errors.Wrap(err, "scan run summary")
		}

		sum.Status = run.Status(status)
		sum.Cost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid cost %q for run %s", cost, sum.RunID)
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		sum.UpdatedAt, _ = time.Parse(timeLayout, takenAt)

		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate run summaries")
	}

	return summaries, nil
}

// Delete removes all checkpoints for a run.
func (s *CheckpointStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_checkpoints WHERE run_id = ?`, runID); err != nil {
		return errors.Wrap(err, "delete run checkpoints")
	}
	return nil
}

// Close closes the database.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *CheckpointStore) queryOne(ctx context.Context, query string, args ...interface{}) (*run.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, query, args...)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "checkpoint not found")
	}
	if err != nil {
		return nil, err
	}

	return cp, nil
}

func scanCheckpoint(row rowScanner) (*run.Checkpoint, error) {
	var (
		cp      run.Checkpoint
		step    string
		status  string
		takenAt string
		state   []byte
	)

	err := row.Scan(&cp.RunID, &cp.Sequence, &cp.Version, &step, &status, &takenAt, &state)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan checkpoint")
	}

	cp.Step = run.Step(step)
	cp.Status = run.Status(status)
	cp.TakenAt, _ = time.Parse(timeLayout, takenAt)
	cp.State = state

	return &cp, nil
}
