package agents

import (
	"context"
	"strings"

	"marketintel/internal/adapters/search"
	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
	"marketintel/pkg/templates"
)

// Research depth presets.
const (
	DepthBasic         = "basic"
	DepthComprehensive = "comprehensive"
)

// searchLimits returns the per-query result caps for a research depth.
func searchLimits(depth string) (company, competitors, trends int) {
	if depth == DepthBasic {
		return 5, 5, 4
	}
	return 10, 10, 8
}

// Researcher gathers raw market data through web search and condenses it into
// a structured research record.
type Researcher struct {
	base
	search search.Provider
	depth  string
	year   int
}

// NewResearcher creates the research agent.
func NewResearcher(deps Deps, cfg Config) *Researcher {
	depth := cfg.ResearchDepth
	if depth == "" {
		depth = DepthComprehensive
	}
	return &Researcher{
		base:   newBase("researcher", deps, cfg),
		search: deps.Search,
		depth:  depth,
		year:   cfg.TrendYear,
	}
}

// ResearchInput identifies what to research. Feedback is set only when the
// revision loop re-enters research; it steers the refreshed overview.
type ResearchInput struct {
	RunID    string
	Subject  string
	Domain   string
	Feedback string
}

// Run executes the research step: an overview query, a competitor query and,
// when a domain is known, a trend query. Each query feeds one synthesis call.
// Individual failures are absorbed into the outcome and mark the record
// incomplete; the caller decides whether what remains is worth analyzing.
func (r *Researcher) Run(ctx context.Context, in ResearchInput) (*run.ResearchRecord, *Outcome, error) {
	out := newOutcome()
	record := &run.ResearchRecord{}

	companyMax, competitorMax, trendMax := searchLimits(r.depth)

	r.log.Infow("Starting research", "run_id", in.RunID, "subject", in.Subject, "depth", r.depth)

	// 1. Subject overview
	overviewResp, err := r.search.Search(ctx, search.CompanyQuery(in.Subject, companyMax))
	if err != nil {
		out.absorb(errors.Wrap(err, "overview search"))
		record.Incomplete = true
	} else {
		record.Sources = append(record.Sources, collectSources(overviewResp)...)
		searchContext := search.FormatResults(overviewResp)
		if in.Feedback != "" {
			searchContext += "\n\nREVISION FEEDBACK (the previous report was rejected; prioritize information that addresses it):\n" + in.Feedback
		}
		content, err := r.call(ctx, out, callSpec{
			RunID:       in.RunID,
			Step:        run.StepResearch,
			Operation:   "overview",
			System:      "prompts/researcher_system",
			Prompt:      "prompts/researcher_overview",
			Data:        map[string]any{"Subject": in.Subject, "SearchContext": searchContext},
			Temperature: researcherTemperature,
		})
		if err != nil {
			out.absorb(err)
			record.Incomplete = true
		} else {
			record.Overview = templates.SafeText(content)
		}
	}
	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	// 2. Competitor discovery
	competitorResp, err := r.search.Search(ctx, search.CompetitorQuery(in.Subject, in.Domain, competitorMax))
	if err != nil {
		out.absorb(errors.Wrap(err, "competitor search"))
		record.Incomplete = true
	} else {
		record.Sources = append(record.Sources, collectSources(competitorResp)...)
		content, err := r.call(ctx, out, callSpec{
			RunID:       in.RunID,
			Step:        run.StepResearch,
			Operation:   "competitors",
			System:      "prompts/researcher_system",
			Prompt:      "prompts/researcher_competitors",
			Data:        map[string]any{"Subject": in.Subject, "SearchContext": search.FormatResults(competitorResp)},
			Temperature: researcherTemperature,
		})
		if err != nil {
			out.absorb(err)
			record.Incomplete = true
		} else if competitors, err := parseCompetitors(content); err != nil {
			out.absorb(err)
			record.Incomplete = true
		} else {
			record.Competitors = competitors
		}
	}
	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	// 3. Market trends, only when a domain is known
	if in.Domain != "" {
		trendResp, err := r.search.Search(ctx, search.TrendQuery(in.Domain, r.year, trendMax))
		if err != nil {
			out.absorb(errors.Wrap(err, "trend search"))
			record.Incomplete = true
		} else {
			record.Sources = append(record.Sources, collectSources(trendResp)...)
			content, err := r.call(ctx, out, callSpec{
				RunID:       in.RunID,
				Step:        run.StepResearch,
				Operation:   "trends",
				System:      "prompts/researcher_system",
				Prompt:      "prompts/researcher_trends",
				Data:        map[string]any{"Domain": in.Domain, "SearchContext": search.FormatResults(trendResp)},
				Temperature: researcherTemperature,
			})
			if err != nil {
				out.absorb(err)
				record.Incomplete = true
			} else if trends, err := parseTrends(content); err != nil {
				out.absorb(err)
				record.Incomplete = true
			} else {
				record.Trends = trends
			}
		}
	}
	if ctx.Err() != nil {
		return record, out, ctx.Err()
	}

	r.log.Infow("Research complete",
		"run_id", in.RunID,
		"sources", len(record.Sources),
		"competitors", len(record.Competitors),
		"trends", len(record.Trends),
		"incomplete", record.Incomplete,
	)

	return record, out, nil
}

// collectSources converts search results into citation entries.
func collectSources(resp *search.Response) []run.Source {
	if resp == nil {
		return nil
	}
	sources := make([]run.Source, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.URL == "" {
			continue
		}
		sources = append(sources, run.Source{
			Title: res.Title,
			URL:   res.URL,
			Score: res.Score,
		})
	}
	return sources
}

func parseCompetitors(content string) ([]run.Competitor, error) {
	var raw []run.Competitor
	if err := extractJSONArray(content, &raw); err != nil {
		return nil, errors.Wrap(err, "parse competitors")
	}
	competitors := raw[:0]
	for _, c := range raw {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		c.Positioning = strings.TrimSpace(c.Positioning)
		c.Notes = strings.TrimSpace(c.Notes)
		competitors = append(competitors, c)
	}
	return competitors, nil
}

func parseTrends(content string) ([]run.Trend, error) {
	var raw []run.Trend
	if err := extractJSONArray(content, &raw); err != nil {
		return nil, errors.Wrap(err, "parse trends")
	}
	trends := raw[:0]
	for _, t := range raw {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		t.Driver = strings.TrimSpace(t.Driver)
		t.Outlook = strings.TrimSpace(t.Outlook)
		trends = append(trends, t)
	}
	return trends, nil
}
