package cost

import (
	"github.com/shopspring/decimal"

	"marketintel/internal/adapters/ai"
	"marketintel/internal/domain/run"
)

// Rough per-step token footprints derived from the pipeline's call structure.
// Actual usage replaces the estimate once the step records its spend.
var stepTokens = map[run.Step]struct {
	input  int64
	output int64
}{
	run.StepResearch: {input: 12_000, output: 3_000},
	run.StepAnalysis: {input: 20_000, output: 5_000},
	run.StepWriting:  {input: 12_000, output: 5_000},
}

var defaultTokens = struct {
	input  int64
	output int64
}{input: 8_000, output: 2_000}

// Estimator projects a step's spend from the model's pricing before any
// tokens are bought, so the budget guard can deny up front.
type Estimator struct {
	model string
}

// NewEstimator builds an estimator for the given model ID.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

// EstimateStep returns the projected spend for one pipeline step. Free-tier
// models estimate to zero.
func (e *Estimator) EstimateStep(step run.Step) decimal.Decimal {
	tokens, ok := stepTokens[step]
	if !ok {
		tokens = defaultTokens
	}

	return ai.CalculateCost(e.model, tokens.input, tokens.output)
}
