package cost

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Tracker accumulates per-model token usage and spend across one process.
type Tracker struct {
	mu    sync.RWMutex
	usage map[string]*ModelUsage
}

// ModelUsage tracks usage for a single model.
type ModelUsage struct {
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	Calls        int64           `json:"calls"`
}

// Summary is a point-in-time view of everything the tracker has seen.
type Summary struct {
	TotalCost   decimal.Decimal `json:"total_cost"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCalls  int64           `json:"total_calls"`
	ByModel     []ModelUsage    `json:"by_model"`
}

// NewTracker creates an empty usage tracker.
func NewTracker() *Tracker {
	return &Tracker{usage: make(map[string]*ModelUsage)}
}

// RecordUsage books one completed model call.
func (t *Tracker) RecordUsage(model string, inputTokens, outputTokens int64, cost decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	mu, ok := t.usage[model]
	if !ok {
		mu = &ModelUsage{Model: model}
		t.usage[model] = mu
	}

	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	mu.Cost = mu.Cost.Add(cost)
	mu.Calls++
}

// TotalCost returns the accumulated spend across all models.
func (t *Tracker) TotalCost() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := decimal.Zero
	for _, mu := range t.usage {
		total = total.Add(mu.Cost)
	}

	return total
}

// Summarize returns totals plus a per-model breakdown sorted by model ID.
func (t *Tracker) Summarize() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{TotalCost: decimal.Zero}
	for _, mu := range t.usage {
		s.TotalCost = s.TotalCost.Add(mu.Cost)
		s.TotalTokens += mu.InputTokens + mu.OutputTokens
		s.TotalCalls += mu.Calls
		s.ByModel = append(s.ByModel, *mu)
	}

	sort.Slice(s.ByModel, func(i, j int) bool {
		return s.ByModel[i].Model < s.ByModel[j].Model
	})

	return s
}

// Reset clears all usage data.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = make(map[string]*ModelUsage)
}
