package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketintel/internal/adapters/ai"
	"marketintel/internal/adapters/search"
	"marketintel/internal/agents"
	"marketintel/internal/cost"
	"marketintel/internal/domain/run"
	"marketintel/internal/domain/usage"
	"marketintel/internal/events"
	"marketintel/internal/metrics"
	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
	"marketintel/pkg/templates"
)

const checkpointSaveTimeout = 10 * time.Second

// Config captures everything a run needs at construction time. Controllers
// never read ambient state mid-run, so concurrent runs with different
// budgets cannot interfere.
type Config struct {
	Model          string
	MaxRevisions   int
	AutoApprove    bool
	ReviewTimeout  time.Duration
	DailyCostLimit decimal.Decimal
	ResearchDepth  string
	TrendYear      int
}

// Deps bundles the controller's collaborators. Events, Tracker and Meter are
// optional; Reviewer is consulted only when AutoApprove is off.
type Deps struct {
	Chat      ai.ChatProvider
	Search    search.Provider
	Templates *templates.Registry
	Sink      usage.Sink
	Store     run.CheckpointStore
	Spend     cost.SpendCache
	Reviewer  Reviewer
	Events    *events.Publisher
	Tracker   errors.Tracker
	Meter     agents.Meter
}

// Reviewer supplies the external decision for a drafted report. Review blocks
// until a decision arrives or ctx ends. Implementations receive a state
// snapshot they may retain freely.
type Reviewer interface {
	Review(ctx context.Context, st *run.State) (Decision, string, error)
}

// StartParams identifies a fresh run.
type StartParams struct {
	RunID   string
	Subject string
	Domain  string
	Budget  decimal.Decimal
}

// Result is what a pipeline run hands back. Every failure mode lands in
// Errors; the entry points never panic.
type Result struct {
	RunID     string            `json:"run_id"`
	Subject   string            `json:"subject"`
	Status    run.Status        `json:"status"`
	Report    *run.ReportRecord `json:"report,omitempty"`
	Cost      decimal.Decimal   `json:"cost"`
	Tokens    int64             `json:"tokens"`
	Approved  bool              `json:"approved"`
	Revisions int               `json:"revisions"`
	Errors    []string          `json:"errors,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// Finished reports whether the run reached a terminal status. False means the
// run suspended mid-flight (process shutdown) and can be resumed.
func (r *Result) Finished() bool {
	return r.Status.Terminal()
}

// Controller drives one run through the pipeline state machine: research,
// analysis, writing, review, with a checkpoint after every completed step.
type Controller struct {
	cfg     Config
	deps    Deps
	st      *run.State
	seq     int
	resumed bool

	guard      *cost.Guard
	estimator  *cost.Estimator
	researcher *agents.Researcher
	analyst    *agents.Analyst
	writer     *agents.Writer

	log *logger.Logger

	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// NewRun builds a controller for a fresh run. A missing run ID is generated;
// the budget must be positive.
func NewRun(cfg Config, deps Deps, p StartParams) (*Controller, error) {
	if p.Subject == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "subject is required")
	}
	if !p.Budget.IsPositive() {
		return nil, errors.Wrap(errors.ErrInvalidInput, "budget must be positive")
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}

	st := run.NewState(p.RunID, p.Subject, p.Domain, cfg.Model, p.Budget)
	return newController(cfg, deps, st, 0, false), nil
}

func newController(cfg Config, deps Deps, st *run.State, seq int, resumed bool) *Controller {
	if cfg.MaxRevisions < 0 {
		cfg.MaxRevisions = 0
	}

	// A resumed run keeps the model it started with.
	model := st.Model
	if model == "" {
		model = cfg.Model
	}

	guard := cost.NewGuard(st.Budget, st.TotalCost)
	if cfg.DailyCostLimit.IsPositive() && deps.Spend != nil {
		guard = guard.WithDailyLimit(cfg.DailyCostLimit, deps.Spend)
	}

	adeps := agents.Deps{
		Chat:      deps.Chat,
		Search:    deps.Search,
		Templates: deps.Templates,
		Sink:      deps.Sink,
		Biller:    guard,
		Meter:     deps.Meter,
	}
	acfg := agents.Config{
		Model:         model,
		ResearchDepth: cfg.ResearchDepth,
		TrendYear:     cfg.TrendYear,
	}

	return &Controller{
		cfg:        cfg,
		deps:       deps,
		st:         st,
		seq:        seq,
		resumed:    resumed,
		guard:      guard,
		estimator:  cost.NewEstimator(model),
		researcher: agents.NewResearcher(adeps, acfg),
		analyst:    agents.NewAnalyst(adeps, acfg),
		writer:     agents.NewWriter(adeps, acfg),
		log:        logger.Get().With("component", "workflow", "run_id", st.RunID),
		cancelCh:   make(chan struct{}),
	}
}

// RunID returns the run's identifier.
func (c *Controller) RunID() string {
	return c.st.RunID
}

// Cancel requests cooperative termination. The in-flight step finishes and
// checkpoints normally; the controller stops before starting the next step.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() {
		c.cancelled.Store(true)
		close(c.cancelCh)
	})
}

// Run executes the pipeline until a terminal status or suspension. It never
// panics and never returns an error; inspect the result instead.
func (c *Controller) Run(ctx context.Context) (res *Result) {
	start := time.Now()

	mode := "new"
	if c.resumed {
		mode = "resume"
	}
	metrics.RunsStarted.WithLabelValues(mode).Inc()
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	if c.deps.Tracker != nil {
		c.deps.Tracker.SetRun(ctx, c.st.RunID, c.st.Subject)
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrapf(errors.ErrInternal, "pipeline panicked: %v", r)
			c.log.Errorf("Pipeline panic recovered: %v", r)
			c.st.RecordError(c.st.CurrentStep.Next(), err)
			c.st.Status = run.StatusFailed
			c.checkpoint()
			res = c.finish(ctx, start)
		}
	}()

	c.log.Infow("Pipeline run starting",
		"subject", c.st.Subject,
		"budget", c.st.Budget.StringFixed(2),
		"resumed", c.resumed,
	)

	if !c.resumed {
		c.apply(EventStart)
		c.checkpoint()
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeRunStarted, decimal.Zero))
	}

	for !c.st.Status.Terminal() {
		if c.cancelled.Load() {
			c.log.Infow("Run cancelled at step boundary", "status", c.st.Status)
			c.apply(EventCancel)
			c.checkpoint()
			break
		}
		if ctx.Err() != nil {
			c.log.Warnw("Run suspending on shutdown", "status", c.st.Status)
			break
		}

		switch c.st.Status {
		case run.StatusResearching:
			c.timed(ctx, run.StepResearch, c.runResearch)
		case run.StatusAnalyzing:
			c.timed(ctx, run.StepAnalysis, c.runAnalysis)
		case run.StatusWriting:
			c.timed(ctx, run.StepWriting, c.runWriting)
		case run.StatusAwaitingReview:
			c.runReview(ctx)
		default:
			// Only a resumed run that checkpointed before its first step
			// lands here.
			c.apply(EventStart)
		}
	}

	return c.finish(ctx, start)
}

// timed wraps a step execution with duration metrics.
func (c *Controller) timed(ctx context.Context, step run.Step, fn func(context.Context) error) {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordStep(string(step), time.Since(start), err)
}

func (c *Controller) runResearch(ctx context.Context) error {
	record, out, err := c.researcher.Run(ctx, agents.ResearchInput{
		RunID:    c.st.RunID,
		Subject:  c.st.Subject,
		Domain:   c.st.Domain,
		Feedback: c.st.Feedback,
	})
	c.book(run.StepResearch, out)
	if err != nil {
		return c.stepInterrupted(ctx, run.StepResearch, err)
	}

	c.st.Research = record
	if record.Empty() {
		err := errors.Wrap(errors.ErrInsufficientResearch, "research found no competitors and no market trends")
		c.st.RecordError(run.StepResearch, err)
		c.log.Warnw("Research produced nothing to analyze, terminating")
		c.completeStep(ctx, run.StepResearch, out, EventResearchEmpty)
		return err
	}

	c.completeStep(ctx, run.StepResearch, out, EventResearchDone)
	return nil
}

func (c *Controller) runAnalysis(ctx context.Context) error {
	if err := c.reserve(ctx, run.StepAnalysis); err != nil {
		return err
	}

	record, out, err := c.analyst.Run(ctx, agents.AnalysisInput{
		RunID:    c.st.RunID,
		Subject:  c.st.Subject,
		Research: c.st.Research,
	})
	c.book(run.StepAnalysis, out)
	if err != nil {
		return c.stepInterrupted(ctx, run.StepAnalysis, err)
	}

	c.st.Analysis = record
	c.completeStep(ctx, run.StepAnalysis, out, EventAnalysisDone)
	return nil
}

func (c *Controller) runWriting(ctx context.Context) error {
	if err := c.reserve(ctx, run.StepWriting); err != nil {
		return err
	}

	report, out, err := c.writer.Run(ctx, agents.WriteInput{
		RunID:    c.st.RunID,
		Subject:  c.st.Subject,
		Domain:   c.st.Domain,
		Feedback: c.st.Feedback,
		Research: c.st.Research,
		Analysis: c.st.Analysis,
	})
	c.book(run.StepWriting, out)
	if err != nil {
		return c.stepInterrupted(ctx, run.StepWriting, err)
	}

	c.st.Report = report
	c.completeStep(ctx, run.StepWriting, out, EventDraftReady)
	return nil
}

// runReview resolves the drafted report: automatic abandonment once the
// revision bound is spent, auto-approval in non-interactive mode, otherwise
// an external decision.
func (c *Controller) runReview(ctx context.Context) {
	var (
		decision Decision
		feedback string
	)

	switch {
	case c.cfg.AutoApprove || c.deps.Reviewer == nil:
		decision = DecisionApprove
	case c.st.RevisionCount >= c.cfg.MaxRevisions:
		// The bound is spent, so the draft abandons without consulting the
		// reviewer again.
		decision = DecisionReject
	default:
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeReviewRequested, c.st.TotalCost))
		var err error
		decision, feedback, err = c.awaitDecision(ctx)
		if err != nil {
			if c.cancelled.Load() || ctx.Err() != nil {
				// The loop turns a cancel flag into EventCancel; a shutdown
				// leaves the persisted Drafted state for a later resume.
				return
			}
			c.st.RecordError(run.StepReview, err)
			c.apply(EventStepFailed)
			c.checkpoint()
			return
		}
	}

	ev := ReviewEvent(decision, c.st.RevisionCount, c.cfg.MaxRevisions)
	switch ev {
	case EventApprove:
		c.st.Approved = true
		c.st.CurrentStep = run.StepDone
		metrics.ReviewDecisions.WithLabelValues("approved").Inc()
		c.log.Infow("Report approved", "revisions", c.st.RevisionCount)
	case EventRevise:
		c.st.RevisionCount++
		c.st.Feedback = feedback
		c.st.CurrentStep = run.StepInit
		metrics.ReviewDecisions.WithLabelValues("revision").Inc()
		c.log.Infow("Draft rejected, revising",
			"revision", c.st.RevisionCount,
			"max_revisions", c.cfg.MaxRevisions,
		)
	case EventAbandon:
		c.st.CurrentStep = run.StepDone
		metrics.ReviewDecisions.WithLabelValues("abandoned").Inc()
		c.log.Warnw("Revision limit reached, abandoning draft", "revisions", c.st.RevisionCount)
	}

	c.apply(ev)
	c.checkpoint()
	c.breadcrumb(ctx, fmt.Sprintf("review resolved: %s", ev))
}

// awaitDecision blocks until the reviewer decides, the configured timeout
// passes, the run is cancelled or the process shuts down. A zero timeout
// waits indefinitely.
func (c *Controller) awaitDecision(ctx context.Context) (Decision, string, error) {
	var (
		rctx   context.Context
		cancel context.CancelFunc
	)
	if c.cfg.ReviewTimeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, c.cfg.ReviewTimeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	go func() {
		select {
		case <-c.cancelCh:
			cancel()
		case <-rctx.Done():
		}
	}()

	c.log.Infow("Awaiting review decision", "timeout", c.cfg.ReviewTimeout)

	decision, feedback, err := c.deps.Reviewer.Review(rctx, c.st.Snapshot())
	if err != nil {
		if rctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", "", errors.Wrapf(errors.ErrReviewTimeout,
				"no review decision within %s", c.cfg.ReviewTimeout)
		}
		return "", "", err
	}
	if !decision.Valid() {
		return "", "", errors.Wrapf(errors.ErrInvalidInput, "unknown review decision %q", decision)
	}
	return decision, feedback, nil
}

// reserve consults the cost guard before a paid step. A denial is fatal to
// the run and is never retried.
func (c *Controller) reserve(ctx context.Context, step run.Step) error {
	estimate := c.estimator.EstimateStep(step)
	if err := c.guard.Reserve(ctx, estimate); err != nil {
		metrics.BudgetDenials.Inc()
		c.log.Warnw("Step denied by cost guard",
			"step", step,
			"estimate", estimate.StringFixed(4),
			"spent", c.guard.Spent().StringFixed(4),
			"error", err,
		)
		c.st.RecordError(step, err)
		c.apply(EventBudgetDenied)
		c.checkpoint()
		return err
	}
	return nil
}

// book folds a step outcome into run state. Spend lands on the state before
// any checkpoint for the step is taken, so a crash cannot under-count it.
func (c *Controller) book(step run.Step, out *agents.Outcome) {
	if out == nil {
		return
	}
	c.st.AddCost(out.Cost)
	c.st.AddTokens(out.Tokens)
	for _, err := range out.Errors {
		c.st.RecordError(step, err)
		c.log.Warnw("Step error absorbed", "step", step, "error", err)
	}
}

// stepInterrupted handles a hard step error. A dead context suspends the run
// with spend preserved so resume re-executes the step; anything else fails
// the run.
func (c *Controller) stepInterrupted(ctx context.Context, step run.Step, err error) error {
	if ctx.Err() != nil {
		c.log.Warnw("Step interrupted by shutdown", "step", step)
		c.checkpoint()
		return err
	}
	c.st.RecordError(step, err)
	c.apply(EventStepFailed)
	c.checkpoint()
	return err
}

// completeStep marks a step boundary: the state machine advances, a
// checkpoint is written before the next step may start, and the step event
// goes out.
func (c *Controller) completeStep(ctx context.Context, step run.Step, out *agents.Outcome, e Event) {
	c.st.CurrentStep = step
	c.apply(e)
	c.checkpoint()

	var stepCost decimal.Decimal
	if out != nil {
		stepCost = out.Cost
	}
	c.deps.Events.Emit(ctx, events.StepCompleted(c.st.RunID, c.st.Subject, string(step), stepCost))
	c.breadcrumb(ctx, fmt.Sprintf("%s completed", step))
}

// apply advances the state machine. An invalid transition is a programming
// error; it fails the run rather than panicking.
func (c *Controller) apply(e Event) {
	next, err := Transition(c.st.Status, e)
	if err != nil {
		c.log.Errorw("Invalid state transition", "status", c.st.Status, "event", e)
		c.st.RecordError(c.st.CurrentStep, err)
		c.st.Status = run.StatusFailed
		return
	}
	c.st.Status = next
	c.st.UpdatedAt = time.Now().UTC()
}

// checkpoint persists run state under the next sequence number. Saves use a
// detached context so a shutdown save still lands. A failed save is recorded
// and the run continues on in-memory state.
func (c *Controller) checkpoint() {
	c.seq++
	cp, err := run.NewCheckpoint(c.st, c.seq)
	if err == nil {
		sctx, cancel := context.WithTimeout(context.Background(), checkpointSaveTimeout)
		err = c.deps.Store.Save(sctx, cp)
		cancel()
	}
	metrics.RecordCheckpointSave(err)
	if err != nil {
		c.log.Errorw("Checkpoint save failed", "sequence", c.seq, "error", err)
		c.st.RecordError(c.st.CurrentStep, errors.Wrapf(err, "checkpoint %d not saved", c.seq))
	}
}

func (c *Controller) breadcrumb(ctx context.Context, msg string) {
	if c.deps.Tracker == nil {
		return
	}
	c.deps.Tracker.AddBreadcrumb(ctx, msg, "pipeline", errors.LevelInfo, map[string]interface{}{
		"run_id": c.st.RunID,
		"cost":   c.st.TotalCost.StringFixed(4),
	})
}

// finish assembles the result, emits the terminal lifecycle event and books
// the run-level metrics.
func (c *Controller) finish(ctx context.Context, start time.Time) *Result {
	res := &Result{
		RunID:     c.st.RunID,
		Subject:   c.st.Subject,
		Status:    c.st.Status,
		Report:    c.st.Report,
		Cost:      c.st.TotalCost,
		Tokens:    c.st.TotalTokens,
		Approved:  c.st.Approved,
		Revisions: c.st.RevisionCount,
		Errors:    c.st.ErrorMessages(),
		Duration:  time.Since(start),
	}

	switch c.st.Status {
	case run.StatusCompleted:
		metrics.RunsFinished.WithLabelValues("completed").Inc()
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeRunCompleted, c.st.TotalCost))
	case run.StatusAbandoned:
		metrics.RunsFinished.WithLabelValues("abandoned").Inc()
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeRunAbandoned, c.st.TotalCost))
	case run.StatusFailed:
		metrics.RunsFinished.WithLabelValues("failed").Inc()
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeRunFailed, c.st.TotalCost))
		if c.deps.Tracker != nil && len(res.Errors) > 0 {
			last := res.Errors[len(res.Errors)-1]
			_ = c.deps.Tracker.CaptureMessage(ctx, last, errors.LevelError, map[string]string{
				"run_id":  c.st.RunID,
				"subject": c.st.Subject,
			})
		}
	case run.StatusCancelled:
		metrics.RunsFinished.WithLabelValues("cancelled").Inc()
		c.deps.Events.Emit(ctx, events.Lifecycle(c.st.RunID, c.st.Subject, events.TypeRunCancelled, c.st.TotalCost))
	}

	c.log.Infow("Pipeline run finished",
		"status", res.Status,
		"approved", res.Approved,
		"cost", res.Cost.StringFixed(4),
		"tokens", res.Tokens,
		"revisions", res.Revisions,
		"errors", len(res.Errors),
		"duration", res.Duration.Round(time.Millisecond),
	)

	return res
}
