package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/pkg/logger"
)

// Event types published on the run topic.
const (
	TypeRunStarted      = "run_started"
	TypeStepCompleted   = "step_completed"
	TypeReviewRequested = "review_requested"
	TypeRunCompleted    = "run_completed"
	TypeRunAbandoned    = "run_abandoned"
	TypeRunFailed       = "run_failed"
	TypeRunCancelled    = "run_cancelled"
)

// RunEvent is the JSON payload published for run lifecycle changes.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Subject   string    `json:"subject"`
	Type      string    `json:"type"`
	Step      string    `json:"step,omitempty"`
	Cost      string    `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// producer is the slice of the Kafka adapter the publisher needs.
type producer interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher emits run lifecycle events. A nil *Publisher is a valid no-op,
// so callers need no guards when Kafka is not configured.
type Publisher struct {
	producer producer
	topic    string
	log      *logger.Logger
}

// NewPublisher wraps a Kafka producer for the given topic.
func NewPublisher(p producer, topic string) *Publisher {
	return &Publisher{
		producer: p,
		topic:    topic,
		log:      logger.Get().With("component", "run_events"),
	}
}

// Emit publishes a run event keyed by run ID. Publishing is best-effort:
// failures are logged and never surfaced to the pipeline.
func (p *Publisher) Emit(ctx context.Context, ev RunEvent) {
	if p == nil || p.producer == nil {
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := p.producer.Publish(ctx, p.topic, ev.RunID, ev); err != nil {
		p.log.Warnw("Failed to publish run event",
			"type", ev.Type,
			"run_id", ev.RunID,
			"error", err,
		)
	}
}

// StepCompleted builds a step_completed event.
func StepCompleted(runID, subject, step string, cost decimal.Decimal) RunEvent {
	return RunEvent{
		RunID:   runID,
		Subject: subject,
		Type:    TypeStepCompleted,
		Step:    step,
		Cost:    cost.String(),
	}
}

// Lifecycle builds an event without step context, for run_started and the
// terminal outcomes.
func Lifecycle(runID, subject, eventType string, cost decimal.Decimal) RunEvent {
	return RunEvent{
		RunID:   runID,
		Subject: subject,
		Type:    eventType,
		Cost:    cost.String(),
	}
}
