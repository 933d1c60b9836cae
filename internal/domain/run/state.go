package run

import (
	"time"

	"github.com/shopspring/decimal"
)

// Step identifies a pipeline step. Steps execute in Order; a checkpoint
// records the last completed step so a resumed run re-enters at the next one.
type Step string

const (
	StepInit     Step = "init"
	StepResearch Step = "research"
	StepAnalysis Step = "analysis"
	StepWriting  Step = "writing"
	StepReview   Step = "review"
	StepDone     Step = "done"
)

// Order is the pipeline step sequence.
var Order = []Step{StepInit, StepResearch, StepAnalysis, StepWriting, StepReview, StepDone}

// Next returns the step following s. StepDone is its own successor.
func (s Step) Next() Step {
	for i, step := range Order {
		if step == s && i < len(Order)-1 {
			return Order[i+1]
		}
	}
	return StepDone
}

// Status is the externally visible state of a run.
type Status string

const (
	StatusPending        Status = "pending"
	StatusResearching    Status = "researching"
	StatusAnalyzing      Status = "analyzing"
	StatusWriting        Status = "writing"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusAbandoned      Status = "abandoned"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether the run has finished in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress returns the completion fraction reported by the status endpoint.
func (s Status) Progress() float64 {
	switch s {
	case StatusPending:
		return 0.0
	case StatusResearching:
		return 0.2
	case StatusAnalyzing:
		return 0.5
	case StatusWriting:
		return 0.8
	case StatusAwaitingReview:
		return 0.9
	default:
		return 1.0
	}
}

// StepError is one entry in the append-only error list carried through a run.
type StepError struct {
	Step    Step      `json:"step"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is the single mutable record threaded through the pipeline. The
// controller owns it exclusively while a step runs; steps receive it for the
// duration of their invocation and must not retain it across step boundaries.
type State struct {
	RunID         string          `json:"run_id"`
	Subject       string          `json:"subject"`
	Domain        string          `json:"domain,omitempty"`
	Model         string          `json:"model"`
	Budget        decimal.Decimal `json:"budget"`
	Research      *ResearchRecord `json:"research,omitempty"`
	Analysis      *AnalysisRecord `json:"analysis,omitempty"`
	Report        *ReportRecord   `json:"report,omitempty"`
	CurrentStep   Step            `json:"current_step"`
	Status        Status          `json:"status"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalTokens   int64           `json:"total_tokens"`
	Approved      bool            `json:"approved"`
	Feedback      string          `json:"feedback,omitempty"`
	RevisionCount int             `json:"revision_count"`
	Errors        []StepError     `json:"errors,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewState creates a fresh run state.
func NewState(runID, subject, domain, model string, budget decimal.Decimal) *State {
	now := time.Now().UTC()
	return &State{
		RunID:       runID,
		Subject:     subject,
		Domain:      domain,
		Model:       model,
		Budget:      budget,
		CurrentStep: StepInit,
		Status:      StatusPending,
		TotalCost:   decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordError appends an error to the run's error list. Errors are never
// removed, only added.
func (s *State) RecordError(step Step, err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, StepError{
		Step:    step,
		Message: err.Error(),
		At:      time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// AddCost increases cumulative cost. Cost only ever grows within a run;
// non-positive deltas are ignored.
func (s *State) AddCost(delta decimal.Decimal) {
	if delta.Sign() <= 0 {
		return
	}
	s.TotalCost = s.TotalCost.Add(delta)
	s.UpdatedAt = time.Now().UTC()
}

// AddTokens increases the cumulative token count.
func (s *State) AddTokens(n int64) {
	if n <= 0 {
		return
	}
	s.TotalTokens += n
}

// HasErrors reports whether any step recorded an error.
func (s *State) HasErrors() bool {
	return len(s.Errors) > 0
}

// ErrorMessages returns the error list as plain strings, in append order.
func (s *State) ErrorMessages() []string {
	if len(s.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(s.Errors))
	for i, e := range s.Errors {
		msgs[i] = e.Message
	}
	return msgs
}

// Snapshot returns a deep copy safe to read while the run keeps mutating the
// original.
func (s *State) Snapshot() *State {
	cp := *s
	if s.Research != nil {
		r := s.Research.clone()
		cp.Research = r
	}
	if s.Analysis != nil {
		a := s.Analysis.clone()
		cp.Analysis = a
	}
	if s.Report != nil {
		rep := *s.Report
		cp.Report = &rep
	}
	if len(s.Errors) > 0 {
		cp.Errors = make([]StepError, len(s.Errors))
		copy(cp.Errors, s.Errors)
	}
	return &cp
}
