package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"marketintel/internal/adapters/config"
	"marketintel/internal/metrics"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultTimeout    = 30 * time.Second
	defaultMaxResults = 5
	maxErrorBodyLen   = 512
)

var _ Provider = (*TavilyClient)(nil)

// TavilyClient talks to the Tavily search API over plain HTTP.
type TavilyClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewTavilyClient builds a client from config. The API key is required.
func NewTavilyClient(cfg config.SearchConfig) (*TavilyClient, error) {
	if cfg.TavilyKey == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "tavily API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.RequestsPerMin / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), burst)
	}

	return &TavilyClient{
		apiKey:  cfg.TavilyKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     logger.Get().With("component", "tavily"),
	}, nil
}

func (c *TavilyClient) Name() string {
	return "tavily"
}

type tavilyRequest struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

type tavilyResponse struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

type tavilyError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Search runs one query against Tavily and returns the ranked hits.
func (c *TavilyClient) Search(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "search query is empty")
	}

	start := time.Now()
	resp, err := c.search(ctx, q)
	metrics.RecordSearch(c.Name(), time.Since(start), err)
	return resp, err
}

func (c *TavilyClient) search(ctx context.Context, q Query) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(errors.ErrRateLimitExceeded, "tavily rate limiter wait")
		}
	}

	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	depth := q.Depth
	if depth == "" {
		depth = DepthAdvanced
	}

	payload, err := json.Marshal(tavilyRequest{
		Query:          q.Text,
		SearchDepth:    depth,
		MaxResults:     maxResults,
		IncludeAnswer:  true,
		IncludeDomains: q.IncludeDomains,
		ExcludeDomains: q.ExcludeDomains,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal tavily request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create tavily request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.ErrTimeout, "tavily request timed out")
		}
		return nil, errors.Wrap(err, "tavily request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read tavily response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp.StatusCode, body)
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "decode tavily response")
	}

	c.log.Debugw("search completed",
		"query", q.Text,
		"results", len(parsed.Results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Query:   parsed.Query,
		Answer:  parsed.Answer,
		Results: parsed.Results,
	}, nil
}

func (c *TavilyClient) apiError(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return errors.Wrap(errors.ErrRateLimitExceeded, "tavily rate limit hit")
	}

	msg := ""
	var apiErr tavilyError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Detail != "" {
			msg = apiErr.Detail
		} else if apiErr.Error != "" {
			msg = apiErr.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen]
		}
	}

	return errors.Wrapf(errors.ErrExternal, "tavily API error (%d): %s", status, msg)
}
