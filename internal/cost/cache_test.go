package cost

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketintel/pkg/errors"
)

type fakeRedis struct {
	values  map[string]float64
	expires map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values:  make(map[string]float64),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeRedis) GetString(ctx context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	return decimal.NewFromFloat(v).String(), nil
}

func (f *fakeRedis) IncrByFloat(ctx context.Context, key string, value float64) (float64, error) {
	f.values[key] += value
	return f.values[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.expires[key] = ttl
	return nil
}

func TestRedisSpendCacheAccumulates(t *testing.T) {
	redis := newFakeRedis()
	cache := NewRedisSpendCache(redis)
	ctx := context.Background()

	spend, err := cache.DailySpend(ctx)
	require.NoError(t, err)
	assert.True(t, spend.IsZero())

	require.NoError(t, cache.AddSpend(ctx, decimal.NewFromFloat(0.25)))
	require.NoError(t, cache.AddSpend(ctx, decimal.NewFromFloat(0.50)))

	spend, err = cache.DailySpend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0.75", spend.String())

	require.Len(t, redis.expires, 1)
	for _, ttl := range redis.expires {
		assert.Equal(t, dailyKeyTTL, ttl)
	}
}

func TestRedisSpendCacheKeysByUTCDay(t *testing.T) {
	redis := newFakeRedis()
	cache := NewRedisSpendCache(redis)
	cache.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}

	require.NoError(t, cache.AddSpend(context.Background(), decimal.NewFromInt(1)))
	assert.Contains(t, redis.values, "cost:daily:2025-06-15")
}

func TestMemorySpendCacheAccumulates(t *testing.T) {
	cache := NewMemorySpendCache()
	ctx := context.Background()

	spend, err := cache.DailySpend(ctx)
	require.NoError(t, err)
	assert.True(t, spend.IsZero())

	require.NoError(t, cache.AddSpend(ctx, decimal.NewFromFloat(1.20)))
	require.NoError(t, cache.AddSpend(ctx, decimal.NewFromFloat(0.30)))

	spend, err = cache.DailySpend(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.5", spend.String())
}

func TestMemorySpendCacheResetsAtMidnight(t *testing.T) {
	cache := NewMemorySpendCache()
	day := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return day }

	require.NoError(t, cache.AddSpend(context.Background(), decimal.NewFromInt(3)))

	day = day.Add(2 * time.Hour)

	spend, err := cache.DailySpend(context.Background())
	require.NoError(t, err)
	assert.True(t, spend.IsZero())
}
