package service

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"marketintel/internal/adapters/ai"
	"marketintel/pkg/errors"
)

// Request describes one intelligence run as submitted by a caller.
type Request struct {
	// Subject is the company under analysis.
	Subject string `json:"company_name" validate:"required,min=1,max=200"`
	// Domain narrows searches and prompts to an industry.
	Domain string `json:"industry" validate:"omitempty,max=100"`
	// Budget caps the dollar spend for the run. Zero takes the configured
	// default.
	Budget float64 `json:"max_budget" validate:"omitempty,gt=0,lte=10"`
	// Model overrides the configured default model.
	Model string `json:"model" validate:"omitempty,max=100"`
	// RunID pins the run identifier. When a checkpoint exists under it the
	// run continues from there; otherwise a fresh run starts under this ID.
	// Blank generates one.
	RunID string `json:"run_id" validate:"omitempty,max=64"`
}

var validate = validator.New()

// Validate checks the request constraints.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "invalid run request: %v", err)
	}
	return nil
}

// budget resolves the effective run budget.
func (r Request) budget(fallback decimal.Decimal) decimal.Decimal {
	if r.Budget > 0 {
		return decimal.NewFromFloat(r.Budget)
	}
	return fallback
}

// model resolves the effective model ID. Blank and uncataloged IDs fall back
// to the configured default so pricing stays known.
func (r Request) model(fallback string) string {
	if r.Model == "" {
		return fallback
	}
	if _, ok := ai.LookupModel(r.Model); !ok {
		return fallback
	}
	return r.Model
}
