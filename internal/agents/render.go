package agents

import (
	"fmt"
	"strings"

	"marketintel/internal/domain/run"
	"marketintel/pkg/templates"
)

// The renderers below turn structured records into the plain-text blocks the
// prompt templates interpolate. Lists render as bullets; empty inputs render
// as an explicit "none" line so the model never sees a dangling header.

func renderCompetitors(competitors []run.Competitor) string {
	if len(competitors) == 0 {
		return "No competitors identified."
	}
	var sb strings.Builder
	for _, c := range competitors {
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		if c.Positioning != "" {
			sb.WriteString(": ")
			sb.WriteString(c.Positioning)
		}
		if c.Notes != "" {
			sb.WriteString(" (")
			sb.WriteString(c.Notes)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderTrends(trends []run.Trend) string {
	if len(trends) == 0 {
		return "No market trends identified."
	}
	var sb strings.Builder
	for _, t := range trends {
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		if t.Driver != "" {
			sb.WriteString(" (driver: ")
			sb.WriteString(t.Driver)
			sb.WriteString(")")
		}
		if t.Outlook != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Outlook)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSWOT(s run.SWOT) string {
	var sb strings.Builder
	sections := []struct {
		label string
		items []string
	}{
		{"Strengths", s.Strengths},
		{"Weaknesses", s.Weaknesses},
		{"Opportunities", s.Opportunities},
		{"Threats", s.Threats},
	}
	for _, sec := range sections {
		sb.WriteString(sec.label)
		sb.WriteString(":\n")
		if len(sec.items) == 0 {
			sb.WriteString("- None identified\n")
		} else {
			sb.WriteString(templates.BulletList(sec.items))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderMatrix(m run.CompetitiveMatrix) string {
	if len(m.Rows) == 0 {
		return "No competitive matrix available."
	}
	var sb strings.Builder
	for _, row := range m.Rows {
		sb.WriteString(row.Competitor)
		sb.WriteString(":\n")
		for _, dim := range m.Dimensions {
			if v, ok := row.Values[dim]; ok && v != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", dim, v)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderRecommendations(recs []run.Recommendation) string {
	if len(recs) == 0 {
		return "No recommendations available."
	}
	var sb strings.Builder
	for i, r := range recs {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, strings.ToUpper(string(r.Priority)), r.Action)
		if r.Rationale != "" {
			sb.WriteString(" - ")
			sb.WriteString(r.Rationale)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderSources produces the numbered source list cited by the report's [n]
// markers. Numbering starts at 1 and follows source order.
func renderSources(sources []run.Source) string {
	if len(sources) == 0 {
		return "No sources available."
	}
	var sb strings.Builder
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = "Untitled source"
		}
		fmt.Fprintf(&sb, "[%d] %s - %s\n", i+1, title, s.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}
