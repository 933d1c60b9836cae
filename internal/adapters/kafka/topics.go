package kafka

// Topic definitions for Kafka event streaming
const (
	// Run lifecycle events
	TopicRuns = "marketintel.runs"
)
