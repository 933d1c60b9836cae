package ai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"marketintel/internal/adapters/config"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

const defaultMaxTokens = 4096

// Ensure OpenRouterProvider implements ChatProvider
var _ ChatProvider = (*OpenRouterProvider)(nil)

// OpenRouterProvider routes chat completions through the OpenRouter gateway
// using its OpenAI-compatible API via the official SDK.
type OpenRouterProvider struct {
	client  openai.Client // NewClient returns Client (not *Client)
	timeout time.Duration
	limiter *Limiter
	log     *logger.Logger
}

// NewOpenRouterProvider creates a chat provider backed by OpenRouter.
func NewOpenRouterProvider(cfg config.AIConfig) (*OpenRouterProvider, error) {
	if cfg.OpenRouterKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "openrouter API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.OpenRouterKey),
		option.WithBaseURL(baseURL),
	)

	return &OpenRouterProvider{
		client:  client,
		timeout: timeout,
		limiter: NewLimiter("openrouter", cfg.RequestsPerMin),
		log:     logger.Get().With("component", "openrouter"),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// Complete sends a chat completion request through the gateway.
func (p *OpenRouterProvider) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	if len(req.Messages) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "chat request has no messages")
	}

	// Wait for rate limiter
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	params.MaxTokens = openai.Int(int64(maxTokens))

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	started := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(err, model)
	}

	if len(completion.Choices) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyResponse, "model %s returned no choices", model)
	}

	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrapf(errors.ErrEmptyResponse, "model %s returned empty content", model)
	}

	usage := Usage{
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		TotalTokens:      completion.Usage.TotalTokens,
	}

	resp := &ChatResponse{
		ID:      completion.ID,
		Model:   string(completion.Model),
		Content: content,
		Usage:   usage,
		Cost:    CalculateCost(model, usage.PromptTokens, usage.CompletionTokens),
	}

	p.log.Debugw("chat completion",
		"model", model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"cost_usd", resp.Cost.String(),
		"duration", time.Since(started))

	return resp, nil
}

func (p *OpenRouterProvider) mapError(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return errors.Wrapf(errors.ErrRateLimitExceeded, "openrouter throttled model %s", model)
		}
		return errors.Wrapf(errors.ErrExternal, "openrouter error (%d) for model %s: %s",
			apiErr.StatusCode, model, apiErr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(errors.ErrTimeout, "openrouter call for model %s", model)
	}
	return errors.Wrap(err, "openrouter request failed")
}
