package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/internal/domain/run"
	"marketintel/internal/metrics"
	"marketintel/internal/service"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

// Probe reports the health of one infrastructure dependency. Probes feed the
// checks map on /health and /ready.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the intelligence API on top of the run service.
type Handler struct {
	svc         *service.Service
	store       run.CheckpointStore
	probes      []Probe
	log         *logger.Logger
	serviceName string
	version     string
	startTime   time.Time
}

// NewHandler creates the API handler. Probes are optional; the checkpoint
// store is always probed on readiness.
func NewHandler(svc *service.Service, store run.CheckpointStore, serviceName, version string, probes ...Probe) *Handler {
	return &Handler{
		svc:         svc,
		store:       store,
		probes:      probes,
		log:         logger.Get().With("component", "api"),
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
	}
}

// Routes wires every endpoint onto a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", h.handleAnalyze)
	mux.HandleFunc("GET /status/{run_id}", h.handleStatus)
	mux.HandleFunc("GET /result/{run_id}", h.handleResult)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("GET /usage", h.handleUsage)
	mux.HandleFunc("POST /review/{run_id}", h.handleReview)
	mux.HandleFunc("POST /resume/{run_id}", h.handleResume)
	mux.HandleFunc("POST /cancel/{run_id}", h.handleCancel)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReadiness)
	mux.HandleFunc("GET /live", h.handleLiveness)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("/", h.handleRoot)

	return mux
}

// analysisResponse mirrors the run envelope served by /analyze and /result.
type analysisResponse struct {
	RunID            string          `json:"run_id"`
	Status           run.Status      `json:"status"`
	CompanyName      string          `json:"company_name"`
	ExecutiveSummary string          `json:"executive_summary,omitempty"`
	FullReport       string          `json:"full_report,omitempty"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalTokens      int64           `json:"total_tokens"`
	SourcesCount     int             `json:"sources_count"`
	RevisionCount    int             `json:"revision_count"`
	Errors           []string        `json:"errors"`
	Approved         bool            `json:"approved"`
}

// handleAnalyze accepts an analysis request and starts the run in the
// background. The run ID in the response is the handle for everything else.
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Wrapf(errors.ErrInvalidInput, "malformed request body: %v", err))
		return
	}

	runID, err := h.svc.StartRun(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, analysisResponse{
		RunID:       runID,
		Status:      run.StatusPending,
		CompanyName: req.Subject,
		TotalCost:   decimal.Zero,
		Errors:      []string{},
	})
}

// statusResponse is the live progress envelope.
type statusResponse struct {
	RunID       string          `json:"run_id"`
	Status      run.Status      `json:"status"`
	CurrentStep run.Step        `json:"current_step"`
	Progress    float64         `json:"progress"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Message     string          `json:"message,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	msg := ""
	if !st.Status.Terminal() {
		msg = "currently " + string(st.Status)
	}
	h.writeJSON(w, http.StatusOK, statusResponse{
		RunID:       st.RunID,
		Status:      st.Status,
		CurrentStep: st.Step,
		Progress:    st.Progress,
		TotalCost:   st.Cost,
		Message:     msg,
	})
}

// handleResult serves the finished run. While the run is still executing it
// answers 425 so clients keep polling /status instead.
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Result(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := analysisResponse{
		RunID:         res.RunID,
		Status:        res.Status,
		CompanyName:   res.Subject,
		TotalCost:     res.Cost,
		TotalTokens:   res.Tokens,
		RevisionCount: res.Revisions,
		Errors:        res.Errors,
		Approved:      res.Approved,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if res.Report != nil {
		resp.ExecutiveSummary = res.Report.ExecutiveSummary
		resp.FullReport = res.Report.Document
		resp.SourcesCount = res.Report.Metadata.SourceCount
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type historyItem struct {
	RunID       string          `json:"run_id"`
	CompanyName string          `json:"company_name"`
	Status      run.Status      `json:"status"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type historyResponse struct {
	Analyses []historyItem `json:"analyses"`
	Total    int           `json:"total"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}

	summaries, err := h.svc.History(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]historyItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, historyItem{
			RunID:       s.RunID,
			CompanyName: s.Subject,
			Status:      s.Status,
			TotalCost:   s.Cost,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, historyResponse{Analyses: items, Total: len(items)})
}

// handleUsage serves the per-model spend accumulated by this process since it
// started.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Usage())
}

type reviewRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// handleReview routes a human decision to a run parked at the review gate.
func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.Wrapf(errors.ErrInvalidInput, "malformed request body: %v", err))
		return
	}

	if err := h.svc.Review(r.Context(), runID, req.Approved, req.Feedback); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"approved": req.Approved,
		"status":   "decision accepted",
	})
}

// handleResume restarts a suspended run from its latest checkpoint in the
// background. Finished runs answer 409, unknown runs 404.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	runID, err := h.svc.Resume(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "resuming",
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if err := h.svc.Cancel(runID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": "cancellation requested",
	})
}

// componentHealth is one entry in the checks map.
type componentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

func runProbe(ctx context.Context, p Probe) componentHealth {
	start := time.Now()
	err := p.Check(ctx)
	elapsed := time.Since(start).String()
	if err != nil {
		return componentHealth{Status: "unhealthy", ResponseTime: elapsed, Error: err.Error()}
	}
	return componentHealth{Status: "healthy", ResponseTime: elapsed}
}

// handleHealth reports overall service health. With probes configured the
// payload carries a per-component checks map; all components down means 503,
// a partial outage reports degraded with 200.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"service":   h.serviceName,
		"version":   h.version,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(h.probes) == 0 {
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := make(map[string]componentHealth, len(h.probes))
	healthy := 0
	for _, p := range h.probes {
		c := runProbe(ctx, p)
		checks[p.Name] = c
		if c.Status == "healthy" {
			healthy++
		}
	}
	resp["checks"] = checks

	code := http.StatusOK
	switch {
	case healthy == 0:
		resp["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(h.probes):
		resp["status"] = "degraded"
	}
	h.writeJSON(w, code, resp)
}

// handleReadiness reports whether the checkpoint store and every probed
// dependency answer queries.
func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]componentHealth{
		"store": runProbe(ctx, Probe{Name: "store", Check: func(ctx context.Context) error {
			_, err := h.store.ListRuns(ctx, 1, 0)
			return err
		}}),
	}
	for _, p := range h.probes {
		checks[p.Name] = runProbe(ctx, p)
	}

	for _, c := range checks {
		if c.Status != "healthy" {
			h.log.Errorw("Readiness probe failed", "checks", checks)
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"checks": checks,
			})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"active_runs": h.svc.ActiveRuns(),
		"checks":      checks,
	})
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": h.serviceName,
		"version": h.version,
		"status":  "running",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorw("Response encoding failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("Request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"detail": err.Error()})
}

// httpStatus maps service errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrRunNotFinished):
		return http.StatusTooEarly
	case errors.Is(err, errors.ErrInvalidState), errors.Is(err, errors.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidInput, "query parameter %q must be an integer", key)
	}
	return v, nil
}
