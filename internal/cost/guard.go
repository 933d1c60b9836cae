package cost

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"marketintel/pkg/errors"
	"marketintel/pkg/logger"
)

var warnThreshold = decimal.NewFromFloat(0.80)

// Guard enforces the per-run budget and an optional cross-run daily limit.
// Reserve is consulted before each paid step; Record books actual spend after.
type Guard struct {
	budget     decimal.Decimal
	dailyLimit decimal.Decimal
	cache      SpendCache
	log        *logger.Logger

	mu     sync.Mutex
	spent  decimal.Decimal
	warned bool
}

// NewGuard builds a guard for one run. spent carries forward the cumulative
// cost of a resumed run so the budget keeps its meaning across restarts.
func NewGuard(budget, spent decimal.Decimal) *Guard {
	if spent.IsNegative() {
		spent = decimal.Zero
	}

	return &Guard{
		budget: budget,
		spent:  spent,
		log:    logger.Get().With("component", "cost_guard"),
	}
}

// WithDailyLimit enables the cross-run daily ceiling backed by a spend cache.
func (g *Guard) WithDailyLimit(limit decimal.Decimal, cache SpendCache) *Guard {
	g.dailyLimit = limit
	g.cache = cache
	return g
}

// Reserve checks whether an estimated spend still fits the budget. A nil
// return means the step may proceed. Denials are fatal to the run.
func (g *Guard) Reserve(ctx context.Context, estimate decimal.Decimal) error {
	if err := g.checkDailyLimit(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	projected := g.spent.Add(estimate)
	if projected.GreaterThan(g.budget) {
		g.log.Warnw("budget reservation denied",
			"spent", g.spent.StringFixed(4),
			"estimate", estimate.StringFixed(4),
			"budget", g.budget.StringFixed(2),
		)
		return errors.Wrapf(errors.ErrBudgetExceeded,
			"estimated spend $%s would exceed budget $%s (already spent $%s)",
			estimate.StringFixed(4), g.budget.StringFixed(2), g.spent.StringFixed(4))
	}

	return nil
}

// Record books actual spend after a step. Spend is recorded even when it
// overshoots the budget; the next Reserve call denies instead.
func (g *Guard) Record(ctx context.Context, actual decimal.Decimal) {
	if !actual.IsPositive() {
		return
	}

	g.mu.Lock()
	g.spent = g.spent.Add(actual)
	spent := g.spent
	warn := !g.warned && spent.GreaterThanOrEqual(g.budget.Mul(warnThreshold))
	if warn {
		g.warned = true
	}
	g.mu.Unlock()

	if warn {
		g.log.Warnw("run approaching budget",
			"spent", spent.StringFixed(4),
			"budget", g.budget.StringFixed(2),
		)
	}

	if g.cache != nil {
		if err := g.cache.AddSpend(ctx, actual); err != nil {
			g.log.Errorf("Failed to record daily spend: %v", err)
		}
	}
}

// Spent returns the cumulative recorded spend for this run.
func (g *Guard) Spent() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Remaining returns budget headroom, floored at zero.
func (g *Guard) Remaining() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.budget.Sub(g.spent)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (g *Guard) checkDailyLimit(ctx context.Context) error {
	if g.cache == nil || !g.dailyLimit.IsPositive() {
		return nil
	}

	spend, err := g.cache.DailySpend(ctx)
	if err != nil {
		// A cache failure never blocks the run.
		g.log.Errorf("Failed to get daily spend from cache: %v", err)
		return nil
	}

	if spend.GreaterThanOrEqual(g.dailyLimit) {
		return errors.Wrapf(errors.ErrDailyLimitExceeded,
			"daily spend limit reached: $%s / $%s",
			spend.StringFixed(2), g.dailyLimit.StringFixed(2))
	}

	if spend.GreaterThanOrEqual(g.dailyLimit.Mul(warnThreshold)) {
		g.log.Warnw("approaching daily spend limit",
			"spend", spend.StringFixed(2),
			"limit", g.dailyLimit.StringFixed(2),
		)
	}

	return nil
}
