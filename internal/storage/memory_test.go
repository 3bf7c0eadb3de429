package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"anti-spam/internal/domain"
	"anti-spam/internal/logger"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = domain.RateLimitPolicy{
	MaxRequests:     3,
	Window:          time.Minute,
	BlockDuration:   10 * time.Minute,
	BlockUntilReset: true,
}

func newTestMemoryStorage(t *testing.T, maxTracked int) *MemoryStorage {
	t.Helper()
	storage, err := NewMemoryStorage(maxTracked, logger.NewNopLogger())
	require.NoError(t, err)
	return storage
}

func TestMemoryStorage_HitRateLimit(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		hits            []time.Duration
		expectedCount   int
		expectedBlocked bool
		expectedStart   time.Duration
	}{
		{
			name:          "First request opens a window",
			hits:          []time.Duration{0},
			expectedCount: 1,
			expectedStart: 0,
		},
		{
			name:          "Requests within limit are counted",
			hits:          []time.Duration{0, time.Second, 2 * time.Second},
			expectedCount: 3,
			expectedStart: 0,
		},
		{
			name:            "Request over limit blocks",
			hits:            []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second},
			expectedCount:   4,
			expectedBlocked: true,
			expectedStart:   0,
		},
		{
			name:          "Window elapsed starts fresh",
			hits:          []time.Duration{0, time.Second, 2 * time.Minute},
			expectedCount: 1,
			expectedStart: 2 * time.Minute,
		},
		{
			name:            "Blocked IP stays blocked after window until reset time",
			hits:            []time.Duration{0, 1, 2, 3, 5 * time.Minute},
			expectedCount:   5,
			expectedBlocked: true,
			expectedStart:   0,
		},
		{
			name:          "Blocked IP starts fresh after reset time",
			hits:          []time.Duration{0, 1, 2, 3, 11 * time.Minute},
			expectedCount: 1,
			expectedStart: 11 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			storage := newTestMemoryStorage(t, 10)
			ctx := context.Background()

			// Act
			var record *domain.RateLimitRecord
			var err error
			for _, offset := range tt.hits {
				record, err = storage.HitRateLimit(ctx, "10.0.0.1", base.Add(offset), testPolicy)
				require.NoError(t, err)
			}

			// Assert
			assert.Equal(t, "10.0.0.1", record.IP)
			assert.Equal(t, tt.expectedCount, record.Count)
			assert.Equal(t, tt.expectedBlocked, record.Blocked)
			assert.Equal(t, base.Add(tt.expectedStart), record.WindowStart)
		})
	}
}

func TestMemoryStorage_HitRateLimit_ReturnsCopy(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	now := time.Now()

	record, err := storage.HitRateLimit(ctx, "10.0.0.1", now, testPolicy)
	require.NoError(t, err)
	record.Count = 999

	stored, err := storage.GetRateLimit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Count)
}

func TestMemoryStorage_GetRateLimit_Missing(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)

	record, err := storage.GetRateLimit(context.Background(), "10.0.0.99")

	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestMemoryStorage_IncrementSuspicious(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		count, err := storage.IncrementSuspicious(ctx, "10.0.0.2", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	_, err := storage.IncrementSuspicious(ctx, "10.0.0.3", now)
	require.NoError(t, err)

	list, err := storage.ListSuspicious(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "10.0.0.2", list[0].IP)
	assert.Equal(t, 3, list[0].Count)
	assert.Equal(t, now.Add(3*time.Second), list[0].LastSeen)
	assert.Equal(t, "10.0.0.3", list[1].IP)
}

func TestMemoryStorage_Blacklist(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()

	require.NoError(t, storage.AddToBlacklist(ctx, "10.0.0.5"))
	require.NoError(t, storage.AddToBlacklist(ctx, "10.0.0.4"))
	require.NoError(t, storage.AddToBlacklist(ctx, "10.0.0.5"))

	listed, err := storage.IsBlacklisted(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, listed)

	ips, err := storage.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.4", "10.0.0.5"}, ips)

	require.NoError(t, storage.RemoveFromBlacklist(ctx, "10.0.0.5"))
	require.NoError(t, storage.RemoveFromBlacklist(ctx, "10.0.0.5"))

	listed, err = storage.IsBlacklisted(ctx, "10.0.0.5")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestMemoryStorage_Stats(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		_, err := storage.HitRateLimit(ctx, "10.0.0.1", now, testPolicy)
		require.NoError(t, err)
	}
	_, err := storage.HitRateLimit(ctx, "10.0.0.2", now, testPolicy)
	require.NoError(t, err)
	_, err = storage.IncrementSuspicious(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	require.NoError(t, storage.AddToBlacklist(ctx, "10.0.0.9"))

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.StorageStats{
		Blacklisted: 1,
		Suspicious:  1,
		RateLimited: 2,
		Blocked:     1,
	}, stats)
}

func TestMemoryStorage_Sweep(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.SweepPolicy{RateLimit: testPolicy, SuspiciousTTL: time.Hour}

	_, err := storage.HitRateLimit(ctx, "old", base, testPolicy)
	require.NoError(t, err)
	_, err = storage.HitRateLimit(ctx, "recent", base.Add(75*time.Minute), testPolicy)
	require.NoError(t, err)
	_, err = storage.IncrementSuspicious(ctx, "stale", base)
	require.NoError(t, err)
	_, err = storage.IncrementSuspicious(ctx, "active", base.Add(30*time.Minute))
	require.NoError(t, err)

	result, err := storage.Sweep(ctx, base.Add(80*time.Minute), policy)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RateLimitsEvicted)
	assert.Equal(t, 1, result.SuspiciousEvicted)

	old, _ := storage.GetRateLimit(ctx, "old")
	assert.Nil(t, old)
	recent, _ := storage.GetRateLimit(ctx, "recent")
	assert.NotNil(t, recent)

	list, err := storage.ListSuspicious(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "active", list[0].IP)
}

func TestMemoryStorage_Sweep_KeepsBlockedUntilReset(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := domain.SweepPolicy{RateLimit: testPolicy, SuspiciousTTL: time.Hour}

	for _, offset := range []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 9 * time.Minute} {
		_, err := storage.HitRateLimit(ctx, "blocked", base.Add(offset), testPolicy)
		require.NoError(t, err)
	}

	// O hit em base+9m estende o bloqueio até base+19m, além de janela+bloqueio
	result, err := storage.Sweep(ctx, base.Add(15*time.Minute), policy)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RateLimitsEvicted)
}

func TestMemoryStorage_LRUBound(t *testing.T) {
	storage := newTestMemoryStorage(t, 2)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := storage.HitRateLimit(ctx, fmt.Sprintf("10.0.0.%d", i), now, testPolicy)
		require.NoError(t, err)
		_, err = storage.IncrementSuspicious(ctx, fmt.Sprintf("10.0.0.%d", i), now)
		require.NoError(t, err)
	}

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RateLimited)
	assert.Equal(t, 2, stats.Suspicious)

	evicted, _ := storage.GetRateLimit(ctx, "10.0.0.0")
	assert.Nil(t, evicted)
	kept, _ := storage.GetRateLimit(ctx, "10.0.0.4")
	assert.NotNil(t, kept)
}

func TestMemoryStorage_ConcurrentHits(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()
	now := time.Now()
	policy := domain.RateLimitPolicy{MaxRequests: 1000, Window: time.Hour, BlockDuration: time.Hour, BlockUntilReset: true}

	var wg conc.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Go(func() {
			_, err := storage.HitRateLimit(ctx, "10.0.0.1", now, policy)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	record, err := storage.GetRateLimit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 100, record.Count)
}

func TestMemoryStorage_HealthAndClose(t *testing.T) {
	storage := newTestMemoryStorage(t, 10)
	ctx := context.Background()

	require.NoError(t, storage.AddToBlacklist(ctx, "10.0.0.1"))
	assert.NoError(t, storage.Health(ctx))
	assert.NoError(t, storage.Close())

	ips, err := storage.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Empty(t, ips)
}

func TestNewMemoryStorage_DefaultCapacity(t *testing.T) {
	storage, err := NewMemoryStorage(0, nil)
	require.NoError(t, err)
	assert.NotNil(t, storage)
}
