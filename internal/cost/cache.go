package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketintel/pkg/errors"
)

const dailyKeyTTL = 48 * time.Hour

// SpendCache provides fast access to cross-run spending data (typically Redis).
type SpendCache interface {
	DailySpend(ctx context.Context) (decimal.Decimal, error)
	AddSpend(ctx context.Context, amount decimal.Decimal) error
}

// RedisClient is the minimal Redis surface the spend cache needs.
type RedisClient interface {
	GetString(ctx context.Context, key string) (string, error)
	IncrByFloat(ctx context.Context, key string, value float64) (float64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

var (
	_ SpendCache = (*RedisSpendCache)(nil)
	_ SpendCache = (*MemorySpendCache)(nil)
)

// RedisSpendCache implements SpendCache on Redis with one key per UTC day,
// so the daily ceiling resets naturally at midnight.
type RedisSpendCache struct {
	redis RedisClient
	now   func() time.Time
}

// NewRedisSpendCache creates a Redis-backed spend cache.
func NewRedisSpendCache(redis RedisClient) *RedisSpendCache {
	return &RedisSpendCache{redis: redis, now: time.Now}
}

func (rc *RedisSpendCache) key() string {
	return fmt.Sprintf("cost:daily:%s", rc.now().UTC().Format("2006-01-02"))
}

// DailySpend retrieves today's accumulated spend.
func (rc *RedisSpendCache) DailySpend(ctx context.Context) (decimal.Decimal, error) {
	val, err := rc.redis.GetString(ctx, rc.key())
	if err != nil {
		// Key doesn't exist = no spending yet (Redis returns an error on missing keys)
		return decimal.Zero, nil
	}

	spend, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid spend value %q", val)
	}

	return spend, nil
}

// AddSpend adds to today's spend using an atomic increment.
func (rc *RedisSpendCache) AddSpend(ctx context.Context, amount decimal.Decimal) error {
	key := rc.key()

	if _, err := rc.redis.IncrByFloat(ctx, key, amount.InexactFloat64()); err != nil {
		return errors.Wrap(err, "increment daily spend")
	}

	if err := rc.redis.Expire(ctx, key, dailyKeyTTL); err != nil {
		return errors.Wrap(err, "set daily spend TTL")
	}

	return nil
}

// MemorySpendCache keeps daily spend in process memory, for deployments
// without Redis. The window does not survive a restart.
type MemorySpendCache struct {
	mu    sync.Mutex
	day   string
	spend decimal.Decimal
	now   func() time.Time
}

// NewMemorySpendCache creates an in-process spend cache.
func NewMemorySpendCache() *MemorySpendCache {
	return &MemorySpendCache{now: time.Now}
}

// DailySpend returns today's accumulated spend.
func (mc *MemorySpendCache) DailySpend(ctx context.Context) (decimal.Decimal, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.roll()
	return mc.spend, nil
}

// AddSpend adds to today's spend.
func (mc *MemorySpendCache) AddSpend(ctx context.Context, amount decimal.Decimal) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.roll()
	mc.spend = mc.spend.Add(amount)
	return nil
}

// roll resets the counter when the UTC day changes. Callers hold mc.mu.
func (mc *MemorySpendCache) roll() {
	day := mc.now().UTC().Format("2006-01-02")
	if day != mc.day {
		mc.day = day
		mc.spend = decimal.Zero
	}
}
