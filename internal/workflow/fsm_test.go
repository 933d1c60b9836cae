package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name  string
		from  run.Status
		event Event
		want  run.Status
	}{
		{"start", run.StatusPending, EventStart, run.StatusResearching},
		{"cancel before start", run.StatusPending, EventCancel, run.StatusCancelled},
		{"research done", run.StatusResearching, EventResearchDone, run.StatusAnalyzing},
		{"research empty", run.StatusResearching, EventResearchEmpty, run.StatusFailed},
		{"research failed", run.StatusResearching, EventStepFailed, run.StatusFailed},
		{"analysis done", run.StatusAnalyzing, EventAnalysisDone, run.StatusWriting},
		{"analysis budget denied", run.StatusAnalyzing, EventBudgetDenied, run.StatusFailed},
		{"writing produces draft", run.StatusWriting, EventDraftReady, run.StatusAwaitingReview},
		{"writing budget denied", run.StatusWriting, EventBudgetDenied, run.StatusFailed},
		{"approve", run.StatusAwaitingReview, EventApprove, run.StatusCompleted},
		{"revise loops to research", run.StatusAwaitingReview, EventRevise, run.StatusResearching},
		{"abandon", run.StatusAwaitingReview, EventAbandon, run.StatusAbandoned},
		{"review failure", run.StatusAwaitingReview, EventStepFailed, run.StatusFailed},
		{"cancel mid-run", run.StatusAnalyzing, EventCancel, run.StatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.from, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
		})
	}
}

func TestTransitionRejectsUndefinedPairs(t *testing.T) {
	cases := []struct {
		name  string
		from  run.Status
		event Event
	}{
		{"approve before draft", run.StatusResearching, EventApprove},
		{"start twice", run.StatusResearching, EventStart},
		{"research done while writing", run.StatusWriting, EventResearchDone},
		{"budget denied while pending", run.StatusPending, EventBudgetDenied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.from, tc.event)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidState))
			assert.Equal(t, tc.from, next, "state must not change on an invalid event")
		})
	}
}

func TestTerminalStatesAcceptNoEvents(t *testing.T) {
	terminals := []run.Status{
		run.StatusCompleted, run.StatusAbandoned, run.StatusFailed, run.StatusCancelled,
	}
	events := []Event{
		EventStart, EventResearchDone, EventResearchEmpty, EventAnalysisDone,
		EventDraftReady, EventBudgetDenied, EventStepFailed,
		EventApprove, EventRevise, EventAbandon, EventCancel,
	}

	for _, s := range terminals {
		for _, e := range events {
			_, err := Transition(s, e)
			assert.Error(t, err, "terminal %s must reject %s", s, e)
		}
	}
}

func TestReviewEvent(t *testing.T) {
	cases := []struct {
		name      string
		decision  Decision
		revisions int
		max       int
		want      Event
	}{
		{"approve with headroom", DecisionApprove, 0, 2, EventApprove},
		{"reject with headroom", DecisionReject, 0, 2, EventRevise},
		{"reject at one of two", DecisionReject, 1, 2, EventRevise},
		{"reject at the bound", DecisionReject, 2, 2, EventAbandon},
		{"approve at the bound still approves", DecisionApprove, 2, 2, EventApprove},
		{"zero max abandons on first rejection", DecisionReject, 0, 0, EventAbandon},
		{"zero max still honors approval", DecisionApprove, 0, 0, EventApprove},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ReviewEvent(tc.decision, tc.revisions, tc.max))
		})
	}
}

func TestDecisionValid(t *testing.T) {
	assert.True(t, DecisionApprove.Valid())
	assert.True(t, DecisionReject.Valid())
	assert.False(t, Decision("maybe").Valid())
	assert.False(t, Decision("").Valid())
}
