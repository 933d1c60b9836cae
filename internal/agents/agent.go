package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/internal/adapters/ai"
	"marketintel/internal/adapters/search"
	"marketintel/internal/domain/run"
	"marketintel/internal/domain/usage"
	"marketintel/internal/metrics"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
	"marketintel/pkg/templates"
)

// Sampling temperatures per agent. Research runs coolest for factual output,
// writing warmest for prose quality.
const (
	researcherTemperature = 0.3
	analystTemperature    = 0.4
	writerTemperature     = 0.6
)

// Biller records the actual cost of every externally billed call as it lands.
type Biller interface {
	Record(ctx context.Context, actual decimal.Decimal)
}

// Meter aggregates per-model token usage across runs. Unlike the per-run
// Biller it outlives any single run.
type Meter interface {
	RecordUsage(model string, inputTokens, outputTokens int64, cost decimal.Decimal)
}

// Deps bundles the collaborators shared by the pipeline agents.
type Deps struct {
	Chat      ai.ChatProvider
	Search    search.Provider
	Templates *templates.Registry
	Sink      usage.Sink
	Biller    Biller
	Meter     Meter
}

// Config captures runtime settings for the pipeline agents.
type Config struct {
	Model         string
	ResearchDepth string
	TrendYear     int
}

// Outcome carries the telemetry of one step invocation: the spend and tokens
// it incurred, and the non-fatal errors it absorbed along the way.
type Outcome struct {
	Cost   decimal.Decimal
	Tokens int64
	Errors []error
}

func newOutcome() *Outcome {
	return &Outcome{Cost: decimal.Zero}
}

// absorb records a non-fatal error on the outcome.
func (o *Outcome) absorb(err error) {
	if err != nil {
		o.Errors = append(o.Errors, err)
	}
}

// base holds the plumbing shared by the three agents.
type base struct {
	name      string
	chat      ai.ChatProvider
	templates *templates.Registry
	model     string
	sink      usage.Sink
	biller    Biller
	meter     Meter
	log       *logger.Logger
}

func newBase(name string, deps Deps, cfg Config) base {
	tmpl := deps.Templates
	if tmpl == nil {
		tmpl = templates.Get()
	}
	var sink usage.Sink = usage.NoopSink{}
	if deps.Sink != nil {
		sink = deps.Sink
	}
	return base{
		name:      name,
		chat:      deps.Chat,
		templates: tmpl,
		model:     cfg.Model,
		sink:      sink,
		biller:    deps.Biller,
		meter:     deps.Meter,
		log:       logger.Get().With("agent", name),
	}
}

// callSpec describes a single LLM invocation.
type callSpec struct {
	RunID       string
	Step        run.Step
	Operation   string
	System      string
	Prompt      string
	Data        interface{}
	Temperature float64
	MaxTokens   int
}

// call renders the system and user prompts, invokes the model and books the
// spend onto the outcome, the biller, the meter and the audit sink.
func (b *base) call(ctx context.Context, out *Outcome, spec callSpec) (string, error) {
	system, err := b.templates.Render(spec.System, nil)
	if err != nil {
		return "", errors.Wrapf(err, "render template %s", spec.System)
	}
	prompt, err := b.templates.Render(spec.Prompt, spec.Data)
	if err != nil {
		return "", errors.Wrapf(err, "render template %s", spec.Prompt)
	}

	req := ai.ChatRequest{
		Model:       b.model,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Messages: []ai.Message{
			ai.SystemMessage(system),
			ai.UserMessage(prompt),
		},
	}

	started := time.Now()
	resp, err := b.chat.Complete(ctx, req)
	latency := time.Since(started)

	if err != nil {
		metrics.RecordLLMCall(b.model, latency, 0, 0, 0, err)
		return "", errors.Wrapf(err, "%s call failed", spec.Operation)
	}

	metrics.RecordLLMCall(b.model, latency, resp.Cost.InexactFloat64(),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	b.log.Debugw("model call completed",
		"operation", spec.Operation,
		"latency_ms", latency.Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
		"preview", templates.Truncate(resp.Content, 160),
	)

	out.Cost = out.Cost.Add(resp.Cost)
	out.Tokens += resp.Usage.TotalTokens

	if b.biller != nil {
		b.biller.Record(ctx, resp.Cost)
	}
	if b.meter != nil {
		b.meter.RecordUsage(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Cost)
	}

	b.audit(ctx, spec, resp, latency)

	return resp.Content, nil
}

func (b *base) audit(ctx context.Context, spec callSpec, resp *ai.ChatResponse, latency time.Duration) {
	rec := &usage.CallRecord{
		RunID:            spec.RunID,
		Step:             string(spec.Step),
		Operation:        spec.Operation,
		Model:            resp.Model,
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
		CostUSD:          resp.Cost.InexactFloat64(),
		LatencyMs:        uint32(latency.Milliseconds()),
	}
	if err := b.sink.Store(ctx, rec); err != nil {
		b.log.Warnw("Failed to store usage record",
			"run_id", spec.RunID,
			"operation", spec.Operation,
			"error", err,
		)
	}
}

// extractJSONArray locates the outermost JSON array in free-form model output
// and unmarshals it. Models often wrap JSON in prose or code fences.
func extractJSONArray(content string, v interface{}) error {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end <= start {
		return errors.Wrap(errors.ErrMalformedResponse, "no JSON array in model output")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return errors.Wrap(errors.ErrMalformedResponse, err.Error())
	}
	return nil
}

// extractJSONObject does the same for a single JSON object.
func extractJSONObject(content string, v interface{}) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return errors.Wrap(errors.ErrMalformedResponse, "no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return errors.Wrap(errors.ErrMalformedResponse, err.Error())
	}
	return nil
}
