package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/internal/domain/run"
	"marketintel/pkg/errors"
)

const swotJSON = `{
	"strengths": ["Strong brand", "Vertical integration", "Patent portfolio", "Talent density"],
	"weaknesses": ["Single market", "High unit cost", "Thin channel coverage", "Late to software"],
	"opportunities": ["APAC expansion", "Service revenue", "Partnerships", "New verticals"],
	"threats": ["Price wars", "Regulation", "Component shortages", "New entrants"]
}`

const matrixJSON = `{
	"dimensions": ["Market Share/Size", "Product Range", "Pricing Strategy", "Technology/Innovation", "Customer Segments", "Strengths", "Weaknesses"],
	"rows": [
		{"competitor": "Acme Robotics", "values": {"Market Share/Size": "Medium", "Pricing Strategy": "Premium"}},
		{"competitor": "Beta Robotics", "values": {"Market Share/Size": "High", "Pricing Strategy": "Low"}}
	]
}`

const recommendationsJSON = `[
	{"priority": "medium", "action": "Expand channel partnerships", "rationale": "Coverage gap"},
	{"priority": "HIGH", "action": "Defend APAC pricing", "rationale": "Competitor pressure"},
	{"priority": "long_term", "action": "Build software platform"},
	{"priority": "high", "action": "Lock in component supply", "rationale": "Shortage risk"},
	{"priority": "medium", "action": "Grow service revenue"}
]`

func testResearch() *run.ResearchRecord {
	return &run.ResearchRecord{
		Overview: "Acme Robotics builds warehouse robots.",
		Competitors: []run.Competitor{
			{Name: "Beta Robotics", Positioning: "Low-cost automation"},
		},
		Trends: []run.Trend{
			{Name: "Warehouse automation growth"},
		},
		Sources: []run.Source{
			{Title: "Result 1", URL: "https://a.example/1"},
		},
	}
}

func TestAnalystFullRun(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: swotJSON},
		{content: matrixJSON},
		{content: "Acme holds a differentiated premium position."},
		{content: recommendationsJSON},
	}}
	biller := &fakeBiller{}

	a := NewAnalyst(testDeps(chat, nil, biller), testConfig())
	record, out, err := a.Run(context.Background(), AnalysisInput{
		RunID:    "run-1",
		Subject:  "Acme Robotics",
		Research: testResearch(),
	})

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, out.Errors)
	assert.Len(t, chat.calls, 4)
	assert.Len(t, biller.recorded, 4)
	assert.Equal(t, "0.04", out.Cost.String())

	assert.Len(t, record.SWOT.Strengths, 4)
	assert.Len(t, record.Matrix.Rows, 2)
	assert.Equal(t, matrixDimensions, record.Matrix.Dimensions)
	assert.Equal(t, "Acme holds a differentiated premium position.", record.Positioning)

	// Ordered by tier, original order kept within a tier.
	require.Len(t, record.Recommendations, 5)
	assert.Equal(t, run.TierHigh, record.Recommendations[0].Priority)
	assert.Equal(t, "Defend APAC pricing", record.Recommendations[0].Action)
	assert.Equal(t, "Lock in component supply", record.Recommendations[1].Action)
	assert.Equal(t, run.TierMedium, record.Recommendations[2].Priority)
	assert.Equal(t, "Expand channel partnerships", record.Recommendations[2].Action)
	assert.Equal(t, "Grow service revenue", record.Recommendations[3].Action)
	assert.Equal(t, run.TierLongTerm, record.Recommendations[4].Priority)
}

func TestAnalystFailsWithoutResearch(t *testing.T) {
	a := NewAnalyst(testDeps(&fakeChat{}, nil, nil), testConfig())
	_, _, err := a.Run(context.Background(), AnalysisInput{RunID: "run-2", Subject: "Acme Robotics"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestAnalystSWOTCallFailureIsFatal(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{err: errors.Wrap(errors.ErrTimeout, "model")},
	}}

	a := NewAnalyst(testDeps(chat, nil, nil), testConfig())
	record, out, err := a.Run(context.Background(), AnalysisInput{
		RunID:    "run-3",
		Subject:  "Acme Robotics",
		Research: testResearch(),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyAnalysis))
	assert.Nil(t, record)
	assert.Len(t, chat.calls, 1)
	assert.True(t, out.Cost.IsZero())
}

func TestAnalystEmptySWOTIsFatal(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: `{"strengths": [], "weaknesses": [], "opportunities": [], "threats": []}`},
	}}

	a := NewAnalyst(testDeps(chat, nil, nil), testConfig())
	record, _, err := a.Run(context.Background(), AnalysisInput{
		RunID:    "run-4",
		Subject:  "Acme Robotics",
		Research: testResearch(),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyAnalysis))
	assert.Nil(t, record)
}

func TestAnalystAbsorbsMatrixFailure(t *testing.T) {
	chat := &fakeChat{replies: []fakeReply{
		{content: swotJSON},
		{content: "I cannot produce a matrix."},
		{content: "Positioning prose."},
		{content: recommendationsJSON},
	}}

	a := NewAnalyst(testDeps(chat, nil, nil), testConfig())
	record, out, err := a.Run(context.Background(), AnalysisInput{
		RunID:    "run-5",
		Subject:  "Acme Robotics",
		Research: testResearch(),
	})

	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, out.Errors, 1)
	assert.True(t, errors.Is(out.Errors[0], errors.ErrMalformedResponse))

	assert.False(t, record.SWOT.Empty())
	assert.Empty(t, record.Matrix.Rows)
	assert.Equal(t, "Positioning prose.", record.Positioning)
	assert.Len(t, record.Recommendations, 5)
}

func TestAnalystMatrixDropsBlankRows(t *testing.T) {
	matrix, err := parseMatrix(`{"rows": [{"competitor": "  "}, {"competitor": "Beta", "values": {"Pricing Strategy": "Low"}}]}`)

	require.NoError(t, err)
	require.Len(t, matrix.Rows, 1)
	assert.Equal(t, "Beta", matrix.Rows[0].Competitor)
	// Missing dimensions fall back to the fixed set.
	assert.Equal(t, matrixDimensions, matrix.Dimensions)
}

func TestParseRecommendationsNormalizesTiers(t *testing.T) {
	recs, err := parseRecommendations(`[
		{"priority": "High Priority", "action": "A"},
		{"priority": "unknown tier", "action": "B"},
		{"priority": "LONG-TERM", "action": "C"},
		{"priority": "high", "action": ""}
	]`)

	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, run.TierHigh, recs[0].Priority)
	assert.Equal(t, "A", recs[0].Action)
	// Unknown labels default to medium.
	assert.Equal(t, run.TierMedium, recs[1].Priority)
	assert.Equal(t, run.TierLongTerm, recs[2].Priority)
}
