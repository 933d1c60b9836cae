package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/internal/cost"
	"marketintel/internal/domain/run"
	"marketintel/internal/workflow"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Config carries the service-level knobs on top of the pipeline config.
type Config struct {
	Pipeline          workflow.Config
	DefaultBudget     decimal.Decimal
	MaxConcurrentRuns int
}

// Service owns the run lifecycle (application layer). It launches pipeline
// controllers, bounds how many execute at once, routes review decisions to
// runs parked at the gate, and answers status and history queries from the
// checkpoint store.
type Service struct {
	cfg   Config
	deps  workflow.Deps
	meter *cost.Tracker
	log   *logger.Logger

	runCtx   context.Context
	stopRuns context.CancelFunc
	slots    chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[string]*workflow.Controller
	gates  map[string]chan gateDecision
}

type gateDecision struct {
	decision workflow.Decision
	feedback string
}

// New builds the service. The reviewer and usage meter in deps are owned by
// the service: interactive decisions arrive through Review and are routed to
// whichever run is waiting, and per-model spend accumulates in Usage.
func New(cfg Config, deps workflow.Deps) *Service {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	runCtx, stop := context.WithCancel(context.Background())

	s := &Service{
		cfg:      cfg,
		deps:     deps,
		meter:    cost.NewTracker(),
		log:      logger.Get().With("component", "run_service"),
		runCtx:   runCtx,
		stopRuns: stop,
		slots:    make(chan struct{}, cfg.MaxConcurrentRuns),
		active:   make(map[string]*workflow.Controller),
		gates:    make(map[string]chan gateDecision),
	}
	s.deps.Reviewer = gate{svc: s}
	s.deps.Meter = s.meter
	return s
}

// StartRun validates the request and launches the run in the background,
// returning its ID immediately. Execution waits for a free slot once the
// concurrency bound is reached.
func (s *Service) StartRun(ctx context.Context, req Request) (string, error) {
	if s.runCtx.Err() != nil {
		return "", errors.Wrap(errors.ErrUnavailable, "service is shutting down")
	}
	ctrl, err := s.newController(ctx, req)
	if err != nil {
		return "", err
	}
	s.launch(ctrl)
	return ctrl.RunID(), nil
}

// Run executes the pipeline synchronously and returns the final result. It
// honors the same concurrency bound as background runs.
func (s *Service) Run(ctx context.Context, req Request) (*workflow.Result, error) {
	if s.runCtx.Err() != nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "service is shutting down")
	}
	ctrl, err := s.newController(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, ctrl)
}

// Resume reloads a checkpointed run and continues it in the background.
func (s *Service) Resume(ctx context.Context, runID string) (string, error) {
	ctrl, err := s.reload(ctx, runID, 0)
	if err != nil {
		return "", err
	}
	s.launch(ctrl)
	return runID, nil
}

// ResumeWait reloads a checkpointed run and drives it to completion on the
// caller's goroutine. The synchronous twin of Resume, for CLI use. Sequence 0
// continues from the latest checkpoint; a positive sequence replays the run
// from that exact snapshot, overwriting later checkpoints as it advances.
func (s *Service) ResumeWait(ctx context.Context, runID string, sequence int) (*workflow.Result, error) {
	ctrl, err := s.reload(ctx, runID, sequence)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, ctrl)
}

func (s *Service) reload(ctx context.Context, runID string, sequence int) (*workflow.Controller, error) {
	if s.runCtx.Err() != nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "service is shutting down")
	}
	s.mu.Lock()
	_, running := s.active[runID]
	s.mu.Unlock()
	if running {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "run %s is already executing", runID)
	}
	if sequence > 0 {
		return workflow.ResumeAt(ctx, s.cfg.Pipeline, s.deps, runID, sequence)
	}
	return workflow.Resume(ctx, s.cfg.Pipeline, s.deps, runID)
}

// execute runs a controller on the caller's goroutine, holding a concurrency
// slot for the duration.
func (s *Service) execute(ctx context.Context, ctrl *workflow.Controller) (*workflow.Result, error) {
	runID := ctrl.RunID()
	s.mu.Lock()
	s.active[runID] = ctrl
	s.mu.Unlock()
	defer s.forget(runID)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slots }()

	return ctrl.Run(ctx), nil
}

func (s *Service) newController(ctx context.Context, req Request) (*workflow.Controller, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg := s.cfg.Pipeline
	cfg.Model = req.model(cfg.Model)

	// A pinned identifier continues its checkpointed run when one exists;
	// only a missing checkpoint falls through to a fresh start under it.
	if req.RunID != "" {
		ctrl, err := s.reload(ctx, req.RunID, 0)
		if err == nil {
			return ctrl, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}

	return workflow.NewRun(cfg, s.deps, workflow.StartParams{
		RunID:   req.RunID,
		Subject: req.Subject,
		Domain:  req.Domain,
		Budget:  req.budget(s.cfg.DefaultBudget),
	})
}

func (s *Service) launch(ctrl *workflow.Controller) {
	runID := ctrl.RunID()
	s.mu.Lock()
	s.active[runID] = ctrl
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.forget(runID)

		select {
		case s.slots <- struct{}{}:
		case <-s.runCtx.Done():
			s.log.Warnw("Run dropped before starting, service shutting down", "run_id", runID)
			return
		}
		defer func() { <-s.slots }()

		res := ctrl.Run(s.runCtx)
		s.log.Infow("Background run finished",
			"run_id", runID,
			"status", res.Status,
			"cost", res.Cost.StringFixed(4),
		)
	}()
}

// RunStatus is the live view of a run served by the status endpoint.
type RunStatus struct {
	RunID     string          `json:"run_id"`
	Subject   string          `json:"company_name,omitempty"`
	Status    run.Status      `json:"status"`
	Step      run.Step        `json:"current_step"`
	Progress  float64         `json:"progress"`
	Cost      decimal.Decimal `json:"total_cost"`
	Revisions int             `json:"revision_count"`
	Approved  bool            `json:"approved"`
	Errors    []string        `json:"errors,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Status reports where a run currently stands.
func (s *Service) Status(ctx context.Context, runID string) (*RunStatus, error) {
	st, err := workflow.LatestState(ctx, s.deps.Store, runID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) && s.IsActive(runID) {
			// Accepted but not yet checkpointed: the run is queued for a slot.
			return &RunStatus{RunID: runID, Status: run.StatusPending}, nil
		}
		return nil, err
	}
	return &RunStatus{
		RunID:     st.RunID,
		Subject:   st.Subject,
		Status:    st.Status,
		Step:      st.CurrentStep,
		Progress:  st.Status.Progress(),
		Cost:      st.TotalCost,
		Revisions: st.RevisionCount,
		Approved:  st.Approved,
		Errors:    st.ErrorMessages(),
		UpdatedAt: st.UpdatedAt,
	}, nil
}

// RunResult is the finished-run payload served by the result endpoint.
type RunResult struct {
	RunID     string            `json:"run_id"`
	Subject   string            `json:"company_name"`
	Status    run.Status        `json:"status"`
	Approved  bool              `json:"approved"`
	Revisions int               `json:"revision_count"`
	Cost      decimal.Decimal   `json:"total_cost"`
	Tokens    int64             `json:"total_tokens"`
	Report    *run.ReportRecord `json:"report,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
}

// Result returns the outcome of a finished run. A run still in flight yields
// ErrRunNotFinished.
func (s *Service) Result(ctx context.Context, runID string) (*RunResult, error) {
	st, err := workflow.LatestState(ctx, s.deps.Store, runID)
	if err != nil {
		return nil, err
	}
	if !st.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrRunNotFinished, "run %s is %s", runID, st.Status)
	}
	return &RunResult{
		RunID:     st.RunID,
		Subject:   st.Subject,
		Status:    st.Status,
		Approved:  st.Approved,
		Revisions: st.RevisionCount,
		Cost:      st.TotalCost,
		Tokens:    st.TotalTokens,
		Report:    st.Report,
		Errors:    st.ErrorMessages(),
	}, nil
}

// History lists known runs, newest first.
func (s *Service) History(ctx context.Context, limit, offset int) ([]*run.Summary, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.deps.Store.ListRuns(ctx, limit, offset)
}

// Review resolves a run parked at the review gate. The first decision wins;
// a later decision, or one for a run that is not waiting, is an
// ErrInvalidState.
func (s *Service) Review(ctx context.Context, runID string, approve bool, feedback string) error {
	d := workflow.DecisionReject
	if approve {
		d = workflow.DecisionApprove
	}

	s.mu.Lock()
	ch, ok := s.gates[runID]
	if ok {
		delete(s.gates, runID)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrInvalidState, "run %s is not awaiting review", runID)
	}

	ch <- gateDecision{decision: d, feedback: feedback}
	s.log.Infow("Review decision routed", "run_id", runID, "approved", approve)
	return nil
}

// Cancel asks a live run to stop at its next step boundary.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	ctrl, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "run %s is not executing", runID)
	}
	ctrl.Cancel()
	s.log.Infow("Run cancellation requested", "run_id", runID)
	return nil
}

// ActiveRuns reports how many runs the service is tracking, queued included.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Usage returns the per-model spend this process has accumulated across every
// model call it made, finished and in-flight runs alike.
func (s *Service) Usage() cost.Summary {
	return s.meter.Summarize()
}

// Shutdown stops accepting work and suspends in-flight runs at their next
// step boundary. Suspended runs keep their checkpoints and can be resumed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopRuns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("All runs drained")
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "runs still executing at shutdown deadline")
	}
}

// gate parks interactive runs until a decision arrives through Review.
type gate struct {
	svc *Service
}

func (g gate) Review(ctx context.Context, st *run.State) (workflow.Decision, string, error) {
	ch := g.svc.openGate(st.RunID)
	defer g.svc.closeGate(st.RunID)

	select {
	case d := <-ch:
		return d.decision, d.feedback, nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func (s *Service) openGate(runID string) chan gateDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan gateDecision, 1)
	s.gates[runID] = ch
	return ch
}

func (s *Service) closeGate(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gates, runID)
}

// IsActive reports whether a controller for the run lives in this process.
// Background sweeps use it to leave attended runs alone.
func (s *Service) IsActive(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}

func (s *Service) forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}
