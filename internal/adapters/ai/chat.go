package ai

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChatProvider is the LLM surface the pipeline agents depend on.
type ChatProvider interface {
	Name() string

	// Complete sends a chat completion request and returns the model output
	// together with token usage and the dollar cost of the call.
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a single message in the conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ChatResponse represents the response from a chat completion.
type ChatResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
	// Cost is the dollar cost of the call, derived from the pricing catalog
	// when the gateway does not report it.
	Cost decimal.Decimal
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}
