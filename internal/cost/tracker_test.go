package cost

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordUsage(t *testing.T) {
	tr := NewTracker()

	tr.RecordUsage("openai/gpt-5-mini", 1000, 500, decimal.NewFromFloat(0.00125))
	tr.RecordUsage("openai/gpt-5-mini", 2000, 1000, decimal.NewFromFloat(0.0025))
	tr.RecordUsage("x-ai/grok-4.1-fast:free", 5000, 2000, decimal.Zero)

	s := tr.Summarize()

	assert.Equal(t, int64(11_500), s.TotalTokens)
	assert.Equal(t, int64(3), s.TotalCalls)
	assert.True(t, s.TotalCost.Equal(decimal.NewFromFloat(0.00375)), "total = %s", s.TotalCost)

	require.Len(t, s.ByModel, 2)
	assert.Equal(t, "openai/gpt-5-mini", s.ByModel[0].Model)
	assert.Equal(t, "x-ai/grok-4.1-fast:free", s.ByModel[1].Model)
	assert.Equal(t, int64(2), s.ByModel[0].Calls)
	assert.Equal(t, int64(3000), s.ByModel[0].InputTokens)
	assert.Equal(t, int64(1500), s.ByModel[0].OutputTokens)
}

func TestTrackerTotalCost(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.TotalCost().IsZero())

	tr.RecordUsage("a", 1, 1, decimal.NewFromFloat(0.1))
	tr.RecordUsage("b", 1, 1, decimal.NewFromFloat(0.2))

	assert.True(t, tr.TotalCost().Equal(decimal.NewFromFloat(0.3)))
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker()
	tr.RecordUsage("a", 10, 10, decimal.NewFromFloat(0.5))

	tr.Reset()

	s := tr.Summarize()
	assert.True(t, s.TotalCost.IsZero())
	assert.Empty(t, s.ByModel)
}
