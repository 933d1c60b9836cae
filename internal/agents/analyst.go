package agents

import (
	"context"
	"strings"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

// matrixDimensions are the fixed comparison axes of the competitive matrix,
// matching the prompt template.
var matrixDimensions = []string{
	"Market Share/Size",
	"Product Range",
	"Pricing Strategy",
	"Technology/Innovation",
	"Customer Segments",
	"Strengths",
	"Weaknesses",
}

// Analyst turns a research record into SWOT, competitive matrix, positioning
// and recommendations through four sequential model calls.
type Analyst struct {
	base
}

// NewAnalyst creates the analysis agent.
func NewAnalyst(deps Deps, cfg Config) *Analyst {
	return &Analyst{base: newBase("analyst", deps, cfg)}
}

// AnalysisInput carries the research the analyst works from.
type AnalysisInput struct {
	RunID    string
	Subject  string
	Research *run.ResearchRecord
}

// Run executes the analysis step. SWOT is the backbone: if it cannot be
// produced the step fails hard. The matrix, positioning and recommendation
// calls degrade to absorbed errors and leave their fields empty.
func (a *Analyst) Run(ctx context.Context, in AnalysisInput) (*run.AnalysisRecord, *Outcome, error) {
	out := newOutcome()

	if in.Research == nil {
		return nil, out, errors.Wrap(errors.ErrInvalidInput, "analysis requires a research record")
	}

	a.log.Infow("Starting analysis", "run_id", in.RunID, "subject", in.Subject)

	overview := in.Research.Overview
	competitorsText := renderCompetitors(in.Research.Competitors)
	trendsText := renderTrends(in.Research.Trends)

	record := &run.AnalysisRecord{}

	// 1. SWOT
	content, err := a.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepAnalysis,
		Operation: "swot",
		System:    "prompts/analyst_system",
		Prompt:    "prompts/analyst_swot",
		Data: map[string]any{
			"Subject":     in.Subject,
			"Overview":    overview,
			"Competitors": competitorsText,
			"Trends":      trendsText,
		},
		Temperature: analystTemperature,
	})
	if err != nil {
		return nil, out, errors.Wrap(errors.ErrEmptyAnalysis, err.Error())
	}

	var swot run.SWOT
	if err := extractJSONObject(content, &swot); err != nil {
		return nil, out, errors.Wrap(errors.ErrEmptyAnalysis, err.Error())
	}
	if swot.Empty() {
		return nil, out, errors.Wrap(errors.ErrEmptyAnalysis, "model returned an empty SWOT")
	}
	record.SWOT = swot

	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	// 2. Competitive matrix
	content, err = a.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepAnalysis,
		Operation: "matrix",
		System:    "prompts/analyst_system",
		Prompt:    "prompts/analyst_matrix",
		Data: map[string]any{
			"Subject":     in.Subject,
			"Competitors": competitorsText,
		},
		Temperature: analystTemperature,
	})
	if err != nil {
		out.absorb(err)
	} else if matrix, err := parseMatrix(content); err != nil {
		out.absorb(err)
	} else {
		record.Matrix = matrix
	}

	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	// 3. Positioning
	content, err = a.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepAnalysis,
		Operation: "positioning",
		System:    "prompts/analyst_system",
		Prompt:    "prompts/analyst_positioning",
		Data: map[string]any{
			"Subject":     in.Subject,
			"Overview":    overview,
			"Competitors": competitorsText,
		},
		Temperature: analystTemperature,
	})
	if err != nil {
		out.absorb(err)
	} else {
		record.Positioning = strings.TrimSpace(content)
	}

	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	// 4. Recommendations
	content, err = a.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepAnalysis,
		Operation: "recommendations",
		System:    "prompts/analyst_system",
		Prompt:    "prompts/analyst_recommendations",
		Data: map[string]any{
			"Subject": in.Subject,
			"SWOT":    renderSWOT(record.SWOT),
			"Trends":  trendsText,
		},
		Temperature: analystTemperature,
	})
	if err != nil {
		out.absorb(err)
	} else if recs, err := parseRecommendations(content); err != nil {
		out.absorb(err)
	} else {
		record.Recommendations = recs
	}

	a.log.Infow("Analysis complete",
		"run_id", in.RunID,
		"matrix_rows", len(record.Matrix.Rows),
		"recommendations", len(record.Recommendations),
	)

	return record, out, nil
}

func parseMatrix(content string) (run.CompetitiveMatrix, error) {
	var matrix run.CompetitiveMatrix
	if err := extractJSONObject(content, &matrix); err != nil {
		return run.CompetitiveMatrix{}, errors.Wrap(err, "parse matrix")
	}
	if len(matrix.Dimensions) == 0 {
		matrix.Dimensions = append([]string(nil), matrixDimensions...)
	}
	rows := matrix.Rows[:0]
	for _, row := range matrix.Rows {
		row.Competitor = strings.TrimSpace(row.Competitor)
		if row.Competitor == "" {
			continue
		}
		rows = append(rows, row)
	}
	matrix.Rows = rows
	return matrix, nil
}

// parseRecommendations extracts the ordered recommendation list. Tier labels
// are normalized; ordering is by tier urgency with the model's order kept
// within a tier.
func parseRecommendations(content string) ([]run.Recommendation, error) {
	var raw []struct {
		Priority  string `json:"priority"`
		Action    string `json:"action"`
		Rationale string `json:"rationale"`
	}
	if err := extractJSONArray(content, &raw); err != nil {
		return nil, errors.Wrap(err, "parse recommendations")
	}

	recs := make([]run.Recommendation, 0, len(raw))
	for _, r := range raw {
		action := strings.TrimSpace(r.Action)
		if action == "" {
			continue
		}
		tier, _ := run.ParseTier(r.Priority)
		recs = append(recs, run.Recommendation{
			Priority:  tier,
			Action:    action,
			Rationale: strings.TrimSpace(r.Rationale),
		})
	}

	run.SortRecommendations(recs)
	return recs, nil
}
