package run

import (
	"sort"
	"strings"
	"time"
)

// Source is one citation entry gathered during research.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score,omitempty"`
}

// Competitor is one competitor entry identified during research.
type Competitor struct {
	Name        string `json:"name"`
	Positioning string `json:"positioning,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Trend is one market-trend entry identified during research.
type Trend struct {
	Name    string `json:"name"`
	Driver  string `json:"driver,omitempty"`
	Outlook string `json:"outlook,omitempty"`
}

// ResearchRecord is the normalized output of the research step.
type ResearchRecord struct {
	Overview    string       `json:"overview"`
	Competitors []Competitor `json:"competitors"`
	Trends      []Trend      `json:"trends"`
	Sources     []Source     `json:"sources"`
	// Incomplete marks a record assembled from partial query results.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Empty reports whether the record contains nothing worth analyzing:
// no competitors and no trends.
func (r *ResearchRecord) Empty() bool {
	return r == nil || (len(r.Competitors) == 0 && len(r.Trends) == 0)
}

func (r *ResearchRecord) clone() *ResearchRecord {
	cp := *r
	cp.Competitors = append([]Competitor(nil), r.Competitors...)
	cp.Trends = append([]Trend(nil), r.Trends...)
	cp.Sources = append([]Source(nil), r.Sources...)
	return &cp
}

// SWOT holds the four analysis quadrants.
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// Empty reports whether all four quadrants are empty.
func (s *SWOT) Empty() bool {
	return s == nil || (len(s.Strengths) == 0 && len(s.Weaknesses) == 0 &&
		len(s.Opportunities) == 0 && len(s.Threats) == 0)
}

// MatrixRow is one competitor's scores across the matrix dimensions.
type MatrixRow struct {
	Competitor string            `json:"competitor"`
	Values     map[string]string `json:"values"`
}

// CompetitiveMatrix compares the subject against its competitors across a
// fixed set of dimensions.
type CompetitiveMatrix struct {
	Dimensions []string    `json:"dimensions"`
	Rows       []MatrixRow `json:"rows"`
}

// Tier is a recommendation urgency tier.
type Tier string

const (
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLongTerm Tier = "long-term"
)

// Rank returns the sort weight of a tier; lower is more urgent.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 0
	case TierMedium:
		return 1
	case TierLongTerm:
		return 2
	}
	return 3
}

// ParseTier normalizes free-form tier labels coming back from the model.
func ParseTier(s string) (Tier, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	switch normalized {
	case "high", "high-priority":
		return TierHigh, true
	case "medium", "medium-priority":
		return TierMedium, true
	case "long-term", "longterm", "low":
		return TierLongTerm, true
	}
	return TierMedium, false
}

// Recommendation is one prioritized action item.
type Recommendation struct {
	Priority  Tier   `json:"priority"`
	Action    string `json:"action"`
	Rationale string `json:"rationale,omitempty"`
}

// SortRecommendations orders recommendations by tier urgency. Order within a
// tier is preserved as produced.
func SortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() < recs[j].Priority.Rank()
	})
}

// AnalysisRecord is the output of the analysis step.
type AnalysisRecord struct {
	SWOT            SWOT              `json:"swot"`
	Matrix          CompetitiveMatrix `json:"matrix"`
	Positioning     string            `json:"positioning"`
	Recommendations []Recommendation  `json:"recommendations"`
}

func (a *AnalysisRecord) clone() *AnalysisRecord {
	cp := *a
	cp.SWOT = SWOT{
		Strengths:     append([]string(nil), a.SWOT.Strengths...),
		Weaknesses:    append([]string(nil), a.SWOT.Weaknesses...),
		Opportunities: append([]string(nil), a.SWOT.Opportunities...),
		Threats:       append([]string(nil), a.SWOT.Threats...),
	}
	cp.Matrix.Dimensions = append([]string(nil), a.Matrix.Dimensions...)
	cp.Matrix.Rows = make([]MatrixRow, len(a.Matrix.Rows))
	for i, row := range a.Matrix.Rows {
		values := make(map[string]string, len(row.Values))
		for k, v := range row.Values {
			values[k] = v
		}
		cp.Matrix.Rows[i] = MatrixRow{Competitor: row.Competitor, Values: values}
	}
	cp.Recommendations = append([]Recommendation(nil), a.Recommendations...)
	return &cp
}

// ReportMetadata describes the produced report.
type ReportMetadata struct {
	Subject     string    `json:"subject"`
	Domain      string    `json:"domain,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	SourceCount int       `json:"source_count"`
	Model       string    `json:"model"`
}

// ReportRecord is the output of the writer step.
type ReportRecord struct {
	ExecutiveSummary string         `json:"executive_summary"`
	Document         string         `json:"document"`
	Metadata         ReportMetadata `json:"metadata"`
}
