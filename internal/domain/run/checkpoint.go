package run

import (
	"encoding/json"
	"time"

	"marketintel/pkg/errors"
)

// CheckpointVersion is the current checkpoint envelope version. Stores reject
// envelopes written by a newer layout.
const CheckpointVersion = 1

// Checkpoint is an immutable snapshot of run state at a step boundary,
// addressed by (run_id, sequence). Resume loads the latest checkpoint and
// re-enters the pipeline at the step after Checkpoint.Step.
type Checkpoint struct {
	Version  int             `json:"version"`
	RunID    string          `json:"run_id"`
	Sequence int             `json:"sequence"`
	Step     Step            `json:"step"`
	Status   Status          `json:"status"`
	TakenAt  time.Time       `json:"taken_at"`
	State    json.RawMessage `json:"state"`
}

// NewCheckpoint snapshots state after the given step completed.
func NewCheckpoint(state *State, sequence int) (*Checkpoint, error) {
	if state == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "nil state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "marshal run state")
	}
	return &Checkpoint{
		Version:  CheckpointVersion,
		RunID:    state.RunID,
		Sequence: sequence,
		Step:     state.CurrentStep,
		Status:   state.Status,
		TakenAt:  time.Now().UTC(),
		State:    data,
	}, nil
}

// DecodeState deserializes the embedded run state.
func (c *Checkpoint) DecodeState() (*State, error) {
	if c.Version > CheckpointVersion {
		return nil, errors.Newf("unsupported checkpoint version %d", c.Version)
	}
	var st State
	if err := json.Unmarshal(c.State, &st); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint state for run %s", c.RunID)
	}
	return &st, nil
}

// Encode serializes the full envelope.
func (c *Checkpoint) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal checkpoint")
	}
	return data, nil
}

// DecodeCheckpoint parses a serialized envelope.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(err, "unmarshal checkpoint")
	}
	return &cp, nil
}
