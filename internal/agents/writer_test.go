package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

func testAnalysis() *run.AnalysisRecord {
	return &run.AnalysisRecord{
		SWOT: run.SWOT{
			Strengths:  []string{"Strong brand"},
			Weaknesses: []string{"Single market"},
		},
		Positioning: "Premium automation vendor.",
		Recommendations: []run.Recommendation{
			{Priority: run.TierHigh, Action: "Defend APAC pricing"},
		},
	}
}

func TestWriterFullRun(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: "Acme Robotics leads the premium warehouse automation segment."},
		{content: "# Market Intelligence Report\n\nAcme Robotics is well positioned [1]."},
	}}
	biller := &fakeBiller{}

	w := NewWriter(testDeps(chat, nil, biller), testConfig())
	record, out, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-1",
		Subject:  "Acme Robotics",
		Domain:   "robotics",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, out.Errors)
	assert.Len(t, chat.calls, 2)
	assert.Len(t, biller.recorded, 2)
	assert.Equal(t, "0.02", out.Cost.String())

	assert.Equal(t, "Acme Robotics leads the premium warehouse automation segment.", record.ExecutiveSummary)
	assert.Contains(t, record.Document, "# Market Intelligence Report")

	assert.Equal(t, "Acme Robotics", record.Metadata.Subject)
	assert.Equal(t, "robotics", record.Metadata.Domain)
	assert.Equal(t, 1, record.Metadata.SourceCount)
	assert.Equal(t, "openai/gpt-5-mini", record.Metadata.Model)
	assert.WithinDuration(t, time.Now().UTC(), record.Metadata.GeneratedAt, time.Minute)

	// The report prompt embeds the summary and research context.
	prompt := chat.lastPrompt()
	assert.Contains(t, prompt, "COMPANY: Acme Robotics")
	assert.Contains(t, prompt, "INDUSTRY: robotics")
	assert.Contains(t, prompt, "EXECUTIVE SUMMARY:")
	assert.Contains(t, prompt, "[1] Result 1")
}

func TestWriterFailsWithoutRecords(t *testing.T) {
	w := NewWriter(testDeps(&fakeChat{}, nil, nil), testConfig())

	_, _, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-2",
		Subject:  "Acme Robotics",
		Research: testResearch(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, _, err = w.Run(context.Background(), WriteInput{
		RunID:    "run-2",
		Subject:  "Acme Robotics",
		Analysis: testAnalysis(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestWriterAbsorbsSummaryFailure(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{err: errors.Wrap(errors.ErrTimeout, "model")},
		{content: "Report without a summary."},
	}}

	w := NewWriter(testDeps(chat, nil, nil), testConfig())
	record, out, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-3",
		Subject:  "Acme Robotics",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})

	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, out.Errors, 1)
	assert.True(t, errors.Is(out.Errors[0], errors.ErrTimeout))

	assert.Empty(t, record.ExecutiveSummary)
	assert.Equal(t, "Report without a summary.", record.Document)
	assert.NotContains(t, chat.lastPrompt(), "EXECUTIVE SUMMARY:")
}

func TestWriterReportFailureIsFatal(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: "A fine summary."},
		{err: errors.Wrap(errors.ErrRateLimitExceeded, "model")},
	}}

	w := NewWriter(testDeps(chat, nil, nil), testConfig())
	record, out, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-4",
		Subject:  "Acme Robotics",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimitExceeded))
	assert.Nil(t, record)
	// Cost of the successful summary call is still reported.
	assert.Equal(t, "0.01", out.Cost.String())
}

func TestWriterFlagsUnresolvedCitations(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: "Summary."},
		{content: "Positioned well [1], growing fast [9], again [9] and [12]."},
	}}

	w := NewWriter(testDeps(chat, nil, nil), testConfig())
	record, out, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-5",
		Subject:  "Acme Robotics",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})

	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0].Error(), "[9], [12]")
	assert.Contains(t, out.Errors[0].Error(), "1 entries")
}

func TestWriterThreadsRevisionFeedback(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: "Revised summary."},
		{content: "Revised report."},
	}}

	w := NewWriter(testDeps(chat, nil, nil), testConfig())
	_, _, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-6",
		Subject:  "Acme Robotics",
		Feedback: "Quantify the APAC opportunity.",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})
	require.NoError(t, err)

	require.Len(t, chat.calls, 2)
	for _, call := range chat.calls {
		prompt := call.Messages[len(call.Messages)-1].Content
		assert.Contains(t, prompt, "REVISION FEEDBACK")
		assert.Contains(t, prompt, "Quantify the APAC opportunity.")
	}
}

func TestWriterContextFallsBackToMarket(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: "Summary."},
		{content: "Report."},
	}}

	w := NewWriter(testDeps(chat, nil, nil), testConfig())
	_, _, err := w.Run(context.Background(), WriteInput{
		RunID:    "run-7",
		Subject:  "Acme Robotics",
		Research: testResearch(),
		Analysis: testAnalysis(),
	})
	require.NoError(t, err)

	assert.Contains(t, chat.lastPrompt(), "INDUSTRY: Market")
}

func TestUnresolvedCitations(t *testing.T) {
	cases := []struct {
		name     string
		document string
		sources  int
		want     []string
	}{
		{"all resolved", "a [1] b [2]", 2, nil},
		{"out of range", "a [3]", 2, []string{"[3]"}},
		{"zero is invalid", "a [0] b [1]", 2, []string{"[0]"}},
		{"duplicates collapse", "a [5] b [5]", 2, []string{"[5]"}},
		{"no sources", "a [1]", 0, []string{"[1]"}},
		{"no citations", strings.Repeat("prose ", 10), 0, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, unresolvedCitations(tc.document, tc.sources))
		})
	}
}
