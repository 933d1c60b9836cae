package search

import (
	"context"
	"fmt"
	"strings"
)

// Search depths understood by the provider. Advanced digs deeper and costs
// more per query.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// Provider is the web-search surface the research step depends on.
type Provider interface {
	Name() string

	// Search runs one query. Empty result sets are returned, not errors.
	Search(ctx context.Context, q Query) (*Response, error)
}

// Query describes a single search request.
type Query struct {
	Text           string
	MaxResults     int
	Depth          string
	IncludeDomains []string
	ExcludeDomains []string
}

// Result is one ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response carries the ordered hits for one query plus the engine's own
// synthesized answer when available.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// CompanyQuery targets overview material about a subject.
func CompanyQuery(subject string, maxResults int) Query {
	return Query{
		Text:       fmt.Sprintf("%s company overview products services business model", subject),
		MaxResults: maxResults,
		Depth:      DepthAdvanced,
	}
}

// CompetitorQuery targets competitor discovery, scoped to a domain when known.
func CompetitorQuery(subject, domain string, maxResults int) Query {
	text := fmt.Sprintf("%s competitors alternatives", subject)
	if domain != "" {
		text = fmt.Sprintf("%s in %s", text, domain)
	}
	return Query{
		Text:       strings.TrimSpace(text),
		MaxResults: maxResults,
		Depth:      DepthAdvanced,
	}
}

// TrendQuery targets market-trend material for a domain.
func TrendQuery(domain string, year, maxResults int) Query {
	return Query{
		Text:       fmt.Sprintf("%s market trends %d growth forecast opportunities", domain, year),
		MaxResults: maxResults,
		Depth:      DepthAdvanced,
	}
}
