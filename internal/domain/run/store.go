package run

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CheckpointStore persists run checkpoints. Save is last-write-wins per
// (run_id, sequence); concurrent access for distinct runs must not interfere.
// The controller assumes nothing beyond "a completed Save is durable before
// the next step starts".
type CheckpointStore interface {
	// Save stores a checkpoint, replacing any prior write for the same
	// (run_id, sequence).
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the checkpoint with the highest sequence for the run,
	// or ErrNotFound.
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// LoadAt returns the checkpoint at an exact sequence, or ErrNotFound.
	LoadAt(ctx context.Context, runID string, sequence int) (*Checkpoint, error)

	// List returns all checkpoints for a run in ascending sequence order.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)

	// ListRuns returns run summaries ordered newest-first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Summary, error)

	// Delete removes all checkpoints for a run.
	Delete(ctx context.Context, runID string) error

	// Close releases underlying resources.
	Close() error
}

// Summary is the per-run digest used by history listings, derived from the
// run's latest checkpoint.
type Summary struct {
	RunID     string          `json:"run_id"`
	Subject   string          `json:"subject"`
	Status    Status          `json:"status"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
