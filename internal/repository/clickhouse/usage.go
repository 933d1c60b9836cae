package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"marketintel/internal/domain/usage"
	"marketintel/pkg/errors"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS llm_usage (
	timestamp         DateTime64(3),
	run_id            String,
	step              LowCardinality(String),
	operation         LowCardinality(String),
	model             LowCardinality(String),
	prompt_tokens     UInt32,
	completion_tokens UInt32,
	total_tokens      UInt32,
	cost_usd          Float64,
	latency_ms        UInt32
) ENGINE = MergeTree()
ORDER BY (run_id, timestamp)
`

// UsageRepository implements usage.Sink for ClickHouse.
//
// Inserts are direct rather than batched: a pipeline run makes a handful of
// LLM calls, so there is nothing to amortize.
type UsageRepository struct {
	conn driver.Conn
}

// NewUsageRepository creates the audit table if needed and returns a repository.
func NewUsageRepository(conn driver.Conn) (*UsageRepository, error) {
	if err := conn.Exec(context.Background(), usageSchema); err != nil {
		return nil, errors.Wrap(err, "failed to create llm_usage table")
	}
	return &UsageRepository{conn: conn}, nil
}

// Store saves a call record
func (r *UsageRepository) Store(ctx context.Context, rec *usage.CallRecord) error {
	if rec == nil {
		return errors.Wrap(errors.ErrInvalidInput, "usage record is nil")
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO llm_usage (
			timestamp, run_id, step, operation, model,
			prompt_tokens, completion_tokens, total_tokens,
			cost_usd, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.conn.Exec(ctx, query,
		ts, rec.RunID, rec.Step, rec.Operation, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.CostUSD, rec.LatencyMs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert usage record")
	}

	return nil
}
