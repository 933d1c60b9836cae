package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
	"marketintel/pkg/templates"
)

// citationPattern matches numbered citation markers like [3] in report prose.
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Writer assembles the executive summary and the full markdown report.
type Writer struct {
	base
}

// NewWriter creates the writer agent.
func NewWriter(deps Deps, cfg Config) *Writer {
	return &Writer{base: newBase("writer", deps, cfg)}
}

// WriteInput carries everything the report is built from. Feedback is set
// only on revision passes.
type WriteInput struct {
	RunID    string
	Subject  string
	Domain   string
	Feedback string
	Research *run.ResearchRecord
	Analysis *run.AnalysisRecord
}

// Run executes the writer step: one call for the executive summary, one for
// the full report. A failed summary is absorbed and the report is written
// without it; a failed report call fails the step, since there is nothing
// left to review.
func (w *Writer) Run(ctx context.Context, in WriteInput) (*run.ReportRecord, *Outcome, error) {
	out := newOutcome()

	if in.Research == nil || in.Analysis == nil {
		return nil, out, errors.Wrap(errors.ErrInvalidInput, "writer requires research and analysis records")
	}

	w.log.Infow("Starting report generation", "run_id", in.RunID, "subject", in.Subject)

	summary, err := w.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepWriting,
		Operation: "summary",
		System:    "prompts/writer_system",
		Prompt:    "prompts/writer_summary",
		Data: map[string]any{
			"Subject":         in.Subject,
			"Overview":        in.Research.Overview,
			"SWOT":            renderSWOT(in.Analysis.SWOT),
			"Recommendations": renderRecommendations(in.Analysis.Recommendations),
			"Feedback":        in.Feedback,
		},
		Temperature: writerTemperature,
	})
	if err != nil {
		out.absorb(err)
		summary = ""
	}
	summary = strings.TrimSpace(summary)

	if ctx.Err() != nil {
		return nil, out, ctx.Err()
	}

	document, err := w.call(ctx, out, callSpec{
		RunID:     in.RunID,
		Step:      run.StepWriting,
		Operation: "report",
		System:    "prompts/writer_system",
		Prompt:    "prompts/writer_report",
		Data: map[string]any{
			"Subject":       in.Subject,
			"Context":       w.buildContext(in, summary),
			"Sources":       renderSources(in.Research.Sources),
			"GeneratedDate": time.Now().Format("January 02, 2006"),
			"Feedback":      in.Feedback,
		},
		Temperature: writerTemperature,
		MaxTokens:   8192,
	})
	if err != nil {
		return nil, out, err
	}
	document = strings.TrimSpace(document)

	if unresolved := unresolvedCitations(document, len(in.Research.Sources)); len(unresolved) > 0 {
		out.absorb(errors.Newf("report cites %s but the source list has %d entries",
			strings.Join(unresolved, ", "), len(in.Research.Sources)))
	}

	record := &run.ReportRecord{
		ExecutiveSummary: summary,
		Document:         document,
		Metadata: run.ReportMetadata{
			Subject:     in.Subject,
			Domain:      in.Domain,
			GeneratedAt: time.Now().UTC(),
			SourceCount: len(in.Research.Sources),
			Model:       w.model,
		},
	}

	w.log.Infow("Report generation complete",
		"run_id", in.RunID,
		"summary_len", len(summary),
		"report_len", len(document),
	)

	return record, out, nil
}

// buildContext assembles the data block the report prompt works from.
func (w *Writer) buildContext(in WriteInput, summary string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "COMPANY: %s\n", in.Subject)
	fmt.Fprintf(&sb, "INDUSTRY: %s\n\n", templates.Fallback(in.Domain, "Market"))

	sb.WriteString("RESEARCH DATA:\n")
	fmt.Fprintf(&sb, "Company Overview: %s\n", in.Research.Overview)
	fmt.Fprintf(&sb, "Competitors: %s\n", renderCompetitors(in.Research.Competitors))
	fmt.Fprintf(&sb, "Market Trends: %s\n\n", renderTrends(in.Research.Trends))

	sb.WriteString("ANALYSIS DATA:\n")
	fmt.Fprintf(&sb, "SWOT: %s\n", renderSWOT(in.Analysis.SWOT))
	fmt.Fprintf(&sb, "Competitive Matrix: %s\n", renderMatrix(in.Analysis.Matrix))
	fmt.Fprintf(&sb, "Market Positioning: %s\n", in.Analysis.Positioning)
	fmt.Fprintf(&sb, "Strategic Recommendations: %s\n", renderRecommendations(in.Analysis.Recommendations))

	if summary != "" {
		fmt.Fprintf(&sb, "\nEXECUTIVE SUMMARY:\n%s\n", summary)
	}

	return sb.String()
}

// unresolvedCitations returns the distinct citation markers in the document
// that do not point at an entry in the numbered source list.
func unresolvedCitations(document string, sourceCount int) []string {
	seen := make(map[string]struct{})
	var unresolved []string
	for _, match := range citationPattern.FindAllStringSubmatch(document, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if n >= 1 && n <= sourceCount {
			continue
		}
		if _, dup := seen[match[0]]; dup {
			continue
		}
		seen[match[0]] = struct{}{}
		unresolved = append(unresolved, match[0])
	}
	return unresolved
}
