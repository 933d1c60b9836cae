package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/adapters/ai"
	"marketintel/internal/adapters/search"
	"marketintel/internal/domain/run"
	"marketintel/internal/domain/usage"
	"marketintel/internal/repository/memory"
	"marketintel/internal/service"
	"marketintel/internal/workflow"
	"marketintel/pkg/errors"
)

// apiChat replays scripted responses, optionally freezing each call until
// block closes.
type apiChat struct {
	mu      sync.Mutex
	replies []string
	calls   int
	block   chan struct{}
}

func (f *apiChat) Name() string { return "api-fake" }

func (f *apiChat) Complete(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	var content string
	if len(f.replies) > 0 {
		content = f.replies[0]
		f.replies = f.replies[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if content == "" {
		return nil, errors.Wrap(errors.ErrUnavailable, "chat script exhausted")
	}
	return &ai.ChatResponse{
		Model:   req.Model,
		Content: content,
		Usage:   ai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Cost:    decimal.NewFromFloat(0.01),
	}, nil
}

func (f *apiChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type apiSearch struct{}

func (apiSearch) Name() string { return "api-fake" }

func (apiSearch) Search(context.Context, search.Query) (*search.Response, error) {
	return &search.Response{Results: []search.Result{
		{Title: "Result 1", URL: "https://example.com/1", Content: "content", Score: 0.9},
	}}, nil
}

func apiCycle(report string) []string {
	return []string{
		"Acme Robotics builds warehouse robots.",
		`[{"name": "Beta Robotics", "positioning": "Low-cost automation"}]`,
		`[{"name": "Warehouse automation growth", "driver": "Labor costs", "outlook": "Accelerating"}]`,
		`{"strengths": ["Strong brand"], "weaknesses": ["Single market"], "opportunities": ["APAC expansion"], "threats": ["Price wars"]}`,
		`{"rows": [{"competitor": "Beta Robotics", "values": {"Pricing Strategy": "Low"}}]}`,
		"Premium positioning.",
		`[{"priority": "high", "action": "Defend APAC pricing", "rationale": "Competitor pressure"}]`,
		"Executive summary.",
		report,
	}
}

func newTestAPI(t *testing.T, chat *apiChat, autoApprove bool) *httptest.Server {
	t.Helper()
	return newTestAPIWithStore(t, chat, autoApprove, memory.NewCheckpointStore())
}

func newTestAPIWithStore(t *testing.T, chat *apiChat, autoApprove bool, store run.CheckpointStore) *httptest.Server {
	t.Helper()
	svc := service.New(service.Config{
		Pipeline: workflow.Config{
			Model:         "openai/gpt-5-mini",
			MaxRevisions:  2,
			AutoApprove:   autoApprove,
			ResearchDepth: "comprehensive",
			TrendYear:     2025,
		},
		DefaultBudget:     decimal.NewFromFloat(2.00),
		MaxConcurrentRuns: 2,
	}, workflow.Deps{
		Chat:   chat,
		Search: apiSearch{},
		Store:  store,
		Sink:   usage.NoopSink{},
	})

	h := NewHandler(svc, store, "marketintel", "test")
	ts := httptest.NewServer(h.Routes())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return ts
}

func postJSON(t *testing.T, url string, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func waitForAPIStatus(t *testing.T, ts *httptest.Server, runID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		code, payload := getJSON(t, ts.URL+"/status/"+runID)
		return code == http.StatusOK && payload["status"] == want
	}, 5*time.Second, 10*time.Millisecond, "run never reached %s", want)
}

func TestAnalyzeLifecycle(t *testing.T) {
	chat := &apiChat{replies: apiCycle("# Market Report\n\nFindings [1].")}
	ts := newTestAPI(t, chat, true)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	runID, _ := payload["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "pending", payload["status"])
	assert.Equal(t, "Acme Robotics", payload["company_name"])

	waitForAPIStatus(t, ts, runID, "completed")

	code, result := getJSON(t, ts.URL+"/result/"+runID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "completed", result["status"])
	assert.Equal(t, true, result["approved"])
	assert.Contains(t, result["full_report"], "# Market Report")
	assert.Equal(t, "Executive summary.", result["executive_summary"])
	assert.Equal(t, "0.09", result["total_cost"])
	assert.Equal(t, float64(1350), result["total_tokens"])
	// One source per search: overview, competitors and trends.
	assert.Equal(t, float64(3), result["sources_count"])
	assert.Empty(t, result["errors"])
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	ts := newTestAPI(t, &apiChat{}, true)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"industry": "robotics"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, payload["detail"], "invalid run request")

	code, payload = postJSON(t, ts.URL+"/analyze", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, payload["detail"], "malformed request body")

	code, _ = postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme", "max_budget": 99}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusProgressAndNotFound(t *testing.T) {
	chat := &apiChat{replies: apiCycle("status report")}
	ts := newTestAPI(t, chat, true)

	code, _ := getJSON(t, ts.URL+"/status/no-such-run")
	assert.Equal(t, http.StatusNotFound, code)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	runID := payload["run_id"].(string)

	waitForAPIStatus(t, ts, runID, "completed")
	code, status := getJSON(t, ts.URL+"/status/"+runID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, status["progress"])
	assert.Equal(t, "done", status["current_step"])
	assert.Empty(t, status["message"])
}

func TestResultTooEarlyThenReview(t *testing.T) {
	chat := &apiChat{replies: apiCycle("reviewed report")}
	ts := newTestAPI(t, chat, false)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	runID := payload["run_id"].(string)

	waitForAPIStatus(t, ts, runID, "awaiting_review")

	code, payload = getJSON(t, ts.URL+"/result/"+runID)
	assert.Equal(t, http.StatusTooEarly, code)
	assert.Contains(t, payload["detail"], "not finished")

	// Approve through the review endpoint; the gate may still be opening.
	require.Eventually(t, func() bool {
		code, _ := postJSON(t, ts.URL+"/review/"+runID, `{"approved": true}`)
		return code == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	waitForAPIStatus(t, ts, runID, "completed")

	code, result := getJSON(t, ts.URL+"/result/"+runID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, result["approved"])
	assert.Equal(t, "reviewed report", result["full_report"])
}

func TestReviewConflictsAndBadBody(t *testing.T) {
	ts := newTestAPI(t, &apiChat{}, true)

	code, payload := postJSON(t, ts.URL+"/review/ghost-run", `{"approved": true}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, payload["detail"], "not awaiting review")

	code, _ = postJSON(t, ts.URL+"/review/ghost-run", `{broken`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCancelEndpoint(t *testing.T) {
	chat := &apiChat{replies: apiCycle("never delivered"), block: make(chan struct{})}
	ts := newTestAPI(t, chat, true)

	code, _ := postJSON(t, ts.URL+"/cancel/no-such-run", `{}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	runID := payload["run_id"].(string)

	require.Eventually(t, func() bool { return chat.callCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	code, payload = postJSON(t, ts.URL+"/cancel/"+runID, `{}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "cancellation requested", payload["status"])

	close(chat.block)
	waitForAPIStatus(t, ts, runID, "cancelled")
}

func TestResumeEndpoint(t *testing.T) {
	store := memory.NewCheckpointStore()

	// Seed the checkpoint a shutdown mid-research would have left behind.
	st := run.NewState("halted-run", "Acme Robotics", "robotics", "openai/gpt-5-mini", decimal.NewFromFloat(2))
	st.Status = run.StatusResearching
	st.CurrentStep = run.StepResearch
	cp, err := run.NewCheckpoint(st, 1)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), cp))

	chat := &apiChat{replies: apiCycle("resumed report")}
	ts := newTestAPIWithStore(t, chat, true, store)

	code, _ := postJSON(t, ts.URL+"/resume/no-such-run", `{}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, payload := postJSON(t, ts.URL+"/resume/halted-run", `{}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "resuming", payload["status"])
	assert.Equal(t, "halted-run", payload["run_id"])

	waitForAPIStatus(t, ts, "halted-run", "completed")
	code, result := getJSON(t, ts.URL+"/result/halted-run")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "resumed report", result["full_report"])

	// A finished run refuses to resume.
	code, payload = postJSON(t, ts.URL+"/resume/halted-run", `{}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, payload["detail"], "already finished")
}

func TestHistoryEndpoint(t *testing.T) {
	chat := &apiChat{replies: apiCycle("history entry")}
	ts := newTestAPI(t, chat, true)

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	runID := payload["run_id"].(string)
	waitForAPIStatus(t, ts, runID, "completed")

	code, history := getJSON(t, ts.URL+"/history")
	require.Equal(t, http.StatusOK, code)
	analyses := history["analyses"].([]any)
	require.Len(t, analyses, 1)
	first := analyses[0].(map[string]any)
	assert.Equal(t, runID, first["run_id"])
	assert.Equal(t, "Acme Robotics", first["company_name"])
	assert.Equal(t, "completed", first["status"])
	assert.Equal(t, float64(1), history["total"])

	code, _ = getJSON(t, fmt.Sprintf("%s/history?limit=%d&offset=0", ts.URL, 5))
	assert.Equal(t, http.StatusOK, code)

	code, payload = getJSON(t, ts.URL+"/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, payload["detail"], "must be an integer")
}

func TestHealthProbes(t *testing.T) {
	store := memory.NewCheckpointStore()
	svc := service.New(service.Config{
		Pipeline: workflow.Config{Model: "openai/gpt-5-mini"},
	}, workflow.Deps{
		Chat:   &apiChat{},
		Search: apiSearch{},
		Store:  store,
		Sink:   usage.NoopSink{},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	h := NewHandler(svc, store, "marketintel", "test",
		Probe{Name: "redis", Check: func(context.Context) error { return nil }},
		Probe{Name: "clickhouse", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)
	ts := httptest.NewServer(h.Routes())
	t.Cleanup(ts.Close)

	// One backend down degrades health but keeps serving.
	code, health := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", health["status"])
	checks := health["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["redis"].(map[string]any)["status"])
	ch := checks["clickhouse"].(map[string]any)
	assert.Equal(t, "unhealthy", ch["status"])
	assert.Contains(t, ch["error"], "connection refused")

	// Readiness requires every dependency up.
	code, ready := getJSON(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", ready["status"])
}

func TestUsageEndpoint(t *testing.T) {
	chat := &apiChat{replies: apiCycle("usage report")}
	ts := newTestAPI(t, chat, true)

	code, summary := getJSON(t, ts.URL+"/usage")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", summary["total_cost"])
	assert.Equal(t, float64(0), summary["total_calls"])

	code, payload := postJSON(t, ts.URL+"/analyze", `{"company_name": "Acme Robotics", "industry": "robotics"}`)
	require.Equal(t, http.StatusAccepted, code)
	waitForAPIStatus(t, ts, payload["run_id"].(string), "completed")

	code, summary = getJSON(t, ts.URL+"/usage")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0.09", summary["total_cost"])
	assert.Equal(t, float64(1350), summary["total_tokens"])
	assert.Equal(t, float64(9), summary["total_calls"])

	byModel, ok := summary["by_model"].([]any)
	require.True(t, ok)
	require.Len(t, byModel, 1)
	model := byModel[0].(map[string]any)
	assert.Equal(t, "openai/gpt-5-mini", model["model"])
	assert.Equal(t, float64(9), model["calls"])
	assert.Equal(t, float64(900), model["input_tokens"])
	assert.Equal(t, float64(450), model["output_tokens"])
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestAPI(t, &apiChat{}, true)

	code, health := getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "marketintel", health["service"])

	code, live := getJSON(t, ts.URL+"/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", live["status"])

	code, ready := getJSON(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", ready["status"])
	assert.Equal(t, float64(0), ready["active_runs"])
	storeCheck := ready["checks"].(map[string]any)["store"].(map[string]any)
	assert.Equal(t, "healthy", storeCheck["status"])

	code, root := getJSON(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", root["status"])

	resp, err := http.Get(ts.URL + "/nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/analyze")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
