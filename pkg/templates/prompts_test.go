package templates

import (
	"strings"
	"testing"
)

func TestPromptTemplate_AllEmbedded(t *testing.T) {
	registry := Get()

	expected := []string{
		"prompts/researcher_system",
		"prompts/researcher_overview",
		"prompts/researcher_competitors",
		"prompts/researcher_trends",
		"prompts/analyst_system",
		"prompts/analyst_swot",
		"prompts/analyst_matrix",
		"prompts/analyst_positioning",
		"prompts/analyst_recommendations",
		"prompts/writer_system",
		"prompts/writer_summary",
		"prompts/writer_report",
	}

	for _, id := range expected {
		if _, err := registry.GetTemplate(id); err != nil {
			t.Errorf("missing embedded template %s: %v", id, err)
		}
	}
}

func TestPromptTemplate_ResearcherOverview(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/researcher_overview", map[string]interface{}{
		"Subject":       "Acme Robotics",
		"SearchContext": "[1] Acme profile\nURL: https://example.com\n",
	})
	if err != nil {
		t.Fatalf("render researcher overview: %v", err)
	}

	requiredSections := []string{
		"Acme Robotics",
		"Company Overview (founded, headquarters, size)",
		"Products & Services",
		"Business Model",
		"Market Position",
		"Key Metrics",
		"[1] Acme profile",
	}

	for _, section := range requiredSections {
		if !strings.Contains(output, section) {
			t.Errorf("Missing required section: %s", section)
		}
	}
}

func TestPromptTemplate_AnalystSWOT(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/analyst_swot", map[string]interface{}{
		"Subject":     "Acme Robotics",
		"Overview":    "Overview text",
		"Competitors": "- Initech: incumbent",
		"Trends":      "- Automation demand rising",
	})
	if err != nil {
		t.Fatalf("render swot prompt: %v", err)
	}

	requiredSections := []string{
		"SWOT analysis for Acme Robotics",
		"STRENGTHS",
		"WEAKNESSES",
		"OPPORTUNITIES",
		"THREATS",
		"List 4-6",
		`{"strengths"`,
	}

	for _, section := range requiredSections {
		if !strings.Contains(output, section) {
			t.Errorf("Missing required section: %s", section)
		}
	}
}

func TestPromptTemplate_AnalystMatrixDimensions(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/analyst_matrix", map[string]interface{}{
		"Subject":     "Acme Robotics",
		"Competitors": "- Initech",
	})
	if err != nil {
		t.Fatalf("render matrix prompt: %v", err)
	}

	dimensions := []string{
		"Market Share/Size",
		"Product Range",
		"Pricing Strategy",
		"Technology/Innovation",
		"Customer Segments",
		"Strengths",
		"Weaknesses",
	}

	for _, dim := range dimensions {
		if !strings.Contains(output, dim) {
			t.Errorf("Missing matrix dimension: %s", dim)
		}
	}

	if !strings.Contains(output, "3-5 main competitors plus Acme Robotics") {
		t.Error("Missing competitor count requirement")
	}
}

func TestPromptTemplate_RecommendationPriorities(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/analyst_recommendations", map[string]interface{}{
		"Subject": "Acme Robotics",
		"SWOT":    "STRENGTHS: ...",
		"Trends":  "- Growth",
	})
	if err != nil {
		t.Fatalf("render recommendations prompt: %v", err)
	}

	requiredSections := []string{
		"5-7 actionable strategic recommendations",
		"HIGH PRIORITY (immediate action needed)",
		"MEDIUM PRIORITY (next 6-12 months)",
		"LONG-TERM (strategic initiatives)",
		`"high", "medium", "long_term"`,
	}

	for _, section := range requiredSections {
		if !strings.Contains(output, section) {
			t.Errorf("Missing required section: %s", section)
		}
	}
}

func TestPromptTemplate_WriterReportStructure(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/writer_report", map[string]interface{}{
		"Subject":       "Acme Robotics",
		"Domain":        "industrial automation",
		"Context":       "COMPANY: Acme Robotics",
		"GeneratedDate": "August 25, 2026",
		"Sources":       "1. Acme profile (https://example.com)",
		"Feedback":      "",
	})
	if err != nil {
		t.Fatalf("render report prompt: %v", err)
	}

	requiredSections := []string{
		"# Market Intelligence Report: Acme Robotics",
		"## Executive Summary",
		"## 1. Company Overview",
		"## 2. Competitive Landscape",
		"## 3. SWOT Analysis",
		"## 4. Market Positioning",
		"## 5. Market Trends & Insights",
		"## 6. Strategic Recommendations",
		"## 7. Sources",
		"Report generated: August 25, 2026",
	}

	for _, section := range requiredSections {
		if !strings.Contains(output, section) {
			t.Errorf("Missing required section: %s", section)
		}
	}

	if strings.Contains(output, "REVISION FEEDBACK") {
		t.Error("Feedback block should be omitted when feedback is empty")
	}
}

func TestPromptTemplate_WriterReportFeedback(t *testing.T) {
	registry := Get()

	output, err := registry.Render("prompts/writer_report", map[string]interface{}{
		"Subject":       "Acme Robotics",
		"Domain":        "industrial automation",
		"Context":       "COMPANY: Acme Robotics",
		"GeneratedDate": "August 25, 2026",
		"Sources":       "1. Acme profile (https://example.com)",
		"Feedback":      "Add revenue figures to the overview.",
	})
	if err != nil {
		t.Fatalf("render report prompt with feedback: %v", err)
	}

	if !strings.Contains(output, "REVISION FEEDBACK") {
		t.Error("Missing feedback block")
	}
	if !strings.Contains(output, "Add revenue figures to the overview.") {
		t.Error("Missing feedback content")
	}
}

func TestPromptTemplate_FallbackOnError(t *testing.T) {
	registry := Get()

	_, err := registry.Render("prompts/nonexistent_template", nil)
	if err == nil {
		t.Error("Expected error for nonexistent template")
	}
}
