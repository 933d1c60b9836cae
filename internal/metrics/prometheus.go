package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketintel/pkg/errors"
)

var (
	// Run metrics
	RunsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"mode"}, // mode: new|resume
	)

	RunsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_runs_finished_total",
			Help: "Total number of pipeline runs finished",
		},
		[]string{"outcome"}, // outcome: completed|failed|abandoned|cancelled
	)

	RunsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketintel_runs_active",
			Help: "Current number of runs in flight",
		},
	)

	// Step metrics
	StepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_step_executions_total",
			Help: "Total number of pipeline step executions",
		},
		[]string{"step", "status"}, // status: success|error
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"step"},
	)

	// LLM metrics
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_llm_calls_total",
			Help: "Total number of LLM calls",
		},
		[]string{"model", "status"}, // status: success|error|rate_limited
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_llm_cost_usd",
			Help: "Total LLM cost in USD",
		},
		[]string{"model"},
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_llm_tokens_total",
			Help: "Total tokens consumed by LLM calls",
		},
		[]string{"model", "type"}, // type: input|output
	)

	// Budget metrics
	BudgetDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketintel_budget_denials_total",
			Help: "Total number of reservations denied by the cost guard",
		},
	)

	// Search metrics
	SearchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_search_requests_total",
			Help: "Total number of web search API calls",
		},
		[]string{"provider", "status"}, // status: success|error|rate_limited
	)

	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_search_latency_seconds",
			Help:    "Web search API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// Review metrics
	ReviewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_review_decisions_total",
			Help: "Total number of review gate decisions",
		},
		[]string{"decision"}, // decision: approved|revision|abandoned
	)

	// Checkpoint metrics
	CheckpointSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_checkpoint_saves_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"status"}, // status: success|error
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketintel_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	// Run metrics
	prometheus.MustRegister(RunsStarted)
	prometheus.MustRegister(RunsFinished)
	prometheus.MustRegister(RunsActive)

	// Step metrics
	prometheus.MustRegister(StepExecutions)
	prometheus.MustRegister(StepDuration)

	// LLM metrics
	prometheus.MustRegister(LLMCalls)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(LLMLatency)
	prometheus.MustRegister(LLMTokens)

	// Budget metrics
	prometheus.MustRegister(BudgetDenials)

	// Search metrics
	prometheus.MustRegister(SearchRequests)
	prometheus.MustRegister(SearchLatency)

	// Review metrics
	prometheus.MustRegister(ReviewDecisions)

	// Checkpoint metrics
	prometheus.MustRegister(CheckpointSaves)

	// Worker metrics
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStep records a pipeline step execution
func RecordStep(step string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	StepExecutions.WithLabelValues(step, status).Inc()
	StepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// callStatus buckets an error for the status label.
func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, errors.ErrRateLimitExceeded):
		return "rate_limited"
	default:
		return "error"
	}
}

// RecordLLMCall records a single LLM invocation
func RecordLLMCall(model string, latency time.Duration, cost float64, inputTokens, outputTokens int64, err error) {
	LLMCalls.WithLabelValues(model, callStatus(err)).Inc()
	LLMLatency.WithLabelValues(model).Observe(latency.Seconds())

	if cost > 0 {
		LLMCost.WithLabelValues(model).Add(cost)
	}

	if inputTokens > 0 {
		LLMTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordSearch records a web search API call
func RecordSearch(provider string, latency time.Duration, err error) {
	SearchRequests.WithLabelValues(provider, callStatus(err)).Inc()
	SearchLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordCheckpointSave records a checkpoint write
func RecordCheckpointSave(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	CheckpointSaves.WithLabelValues(status).Inc()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}
