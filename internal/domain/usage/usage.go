package usage

import (
	"context"
	"time"
)

// CallRecord represents a single LLM call in the audit trail.
type CallRecord struct {
	Timestamp time.Time `ch:"timestamp"`

	// Run context
	RunID string `ch:"run_id"`
	Step  string `ch:"step"`
	// Operation names the call within a step, e.g. "overview" or "swot".
	Operation string `ch:"operation"`

	Model string `ch:"model"`

	// Token usage
	PromptTokens     uint32 `ch:"prompt_tokens"`
	CompletionTokens uint32 `ch:"completion_tokens"`
	TotalTokens      uint32 `ch:"total_tokens"`

	CostUSD float64 `ch:"cost_usd"`

	LatencyMs uint32 `ch:"latency_ms"`
}

// Sink is the write side of the LLM call audit trail. Aggregates are served
// elsewhere (the in-process usage meter and Prometheus), so the sink stays
// append-only.
type Sink interface {
	// Store saves a call record
	Store(ctx context.Context, rec *CallRecord) error
}

// NoopSink discards records. Used when no audit backend is configured.
type NoopSink struct{}

func (NoopSink) Store(context.Context, *CallRecord) error { return nil }
