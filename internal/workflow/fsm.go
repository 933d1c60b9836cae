package workflow

import (
	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

// Event is an occurrence that drives the pipeline state machine.
type Event string

const (
	// EventStart moves a pending run into research.
	EventStart Event = "start"

	// EventResearchDone fires when research produced a usable record.
	EventResearchDone Event = "research_done"

	// EventResearchEmpty fires when research found neither competitors nor
	// trends; there is nothing to analyze.
	EventResearchEmpty Event = "research_empty"

	// EventAnalysisDone fires when analysis produced a record.
	EventAnalysisDone Event = "analysis_done"

	// EventDraftReady fires when the writer produced a report draft.
	EventDraftReady Event = "draft_ready"

	// EventBudgetDenied fires when the cost guard refuses a step reservation.
	EventBudgetDenied Event = "budget_denied"

	// EventStepFailed fires when a step fails beyond recovery.
	EventStepFailed Event = "step_failed"

	// EventApprove accepts the drafted report.
	EventApprove Event = "approve"

	// EventRevise rejects the draft and loops back into research with
	// feedback. Only valid while the revision bound has headroom.
	EventRevise Event = "revise"

	// EventAbandon gives up on the draft once the revision bound is spent.
	EventAbandon Event = "abandon"

	// EventCancel terminates the run at a step boundary.
	EventCancel Event = "cancel"
)

// transitions is the full state table. A (state, event) pair absent from the
// table is invalid; terminal states have no outgoing edges.
var transitions = map[run.Status]map[Event]run.Status{
	run.StatusPending: {
		EventStart:  run.StatusResearching,
		EventCancel: run.StatusCancelled,
	},
	run.StatusResearching: {
		EventResearchDone:  run.StatusAnalyzing,
		EventResearchEmpty: run.StatusFailed,
		EventStepFailed:    run.StatusFailed,
		EventCancel:        run.StatusCancelled,
	},
	run.StatusAnalyzing: {
		EventAnalysisDone: run.StatusWriting,
		EventBudgetDenied: run.StatusFailed,
		EventStepFailed:   run.StatusFailed,
		EventCancel:       run.StatusCancelled,
	},
	run.StatusWriting: {
		EventDraftReady:   run.StatusAwaitingReview,
		EventBudgetDenied: run.StatusFailed,
		EventStepFailed:   run.StatusFailed,
		EventCancel:       run.StatusCancelled,
	},
	run.StatusAwaitingReview: {
		EventApprove:    run.StatusCompleted,
		EventRevise:     run.StatusResearching,
		EventAbandon:    run.StatusAbandoned,
		EventStepFailed: run.StatusFailed,
		EventCancel:     run.StatusCancelled,
	},
}

// Transition returns the state that follows s on e. It is pure: no I/O, no
// clock, no mutation. Undefined pairs return the current state unchanged
// together with ErrInvalidState.
func Transition(s run.Status, e Event) (run.Status, error) {
	if next, ok := transitions[s][e]; ok {
		return next, nil
	}
	return s, errors.Wrapf(errors.ErrInvalidState, "no transition from %q on %q", s, e)
}

// Decision is an external review verdict on a drafted report.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ReviewEvent maps a review decision onto the gate event. An approval always
// approves. A rejection revises while revisions remain below the bound and
// abandons once the bound is spent.
func ReviewEvent(d Decision, revisions, maxRevisions int) Event {
	if d == DecisionApprove {
		return EventApprove
	}
	if revisions >= maxRevisions {
		return EventAbandon
	}
	return EventRevise
}
