package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// frozen pins the quota clock inside one window
func frozen(q *SharedQuota, at time.Time) {
	q.now = func() time.Time { return at }
}

func TestNewSharedQuota_Validation(t *testing.T) {
	client, _ := newTestRedis(t)

	tests := []struct {
		name    string
		cfg     *SharedQuotaConfig
		wantErr string
	}{
		{"nil config", nil, "configuration is required"},
		{"nil redis", &SharedQuotaConfig{Provider: "etherscan", Budget: 5}, "redis client is required"},
		{"no provider", &SharedQuotaConfig{Redis: client, Budget: 5}, "provider is required"},
		{"zero budget", &SharedQuotaConfig{Redis: client, Provider: "etherscan"}, "budget must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSharedQuota(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	q, err := NewSharedQuota(&SharedQuotaConfig{Redis: client, Provider: "etherscan", Budget: 5})
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowSize, q.windowSize)
	assert.Equal(t, DefaultKeyTTL, q.keyTTL)
}

func TestTryConsume_EnforcesBudgetPerWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()

	q, err := NewSharedQuota(&SharedQuotaConfig{Redis: client, Provider: "etherscan", Budget: 3})
	require.NoError(t, err)
	at := time.UnixMilli(1_700_000_000_250)
	frozen(q, at)

	for i := 0; i < 3; i++ {
		ok, _, err := q.TryConsume(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, wait, err := q.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 751*time.Millisecond, wait)

	usage, err := q.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)

	frozen(q, at.Add(time.Second))
	ok, _, err = q.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok, "next window starts fresh")
}

func TestTryConsume_SharedAcrossInstances(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	cfg := &SharedQuotaConfig{Redis: client, Provider: "trongrid", Budget: 10}
	a, err := NewSharedQuota(cfg)
	require.NoError(t, err)
	b, err := NewSharedQuota(cfg)
	require.NoError(t, err)
	frozen(a, at)
	frozen(b, at)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		q := a
		if i%2 == 1 {
			q = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := q.TryConsume(ctx, 1)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
}

func TestWait_FailsOpenWhenRedisIsDown(t *testing.T) {
	client, mr := newTestRedis(t)
	q, err := NewSharedQuota(&SharedQuotaConfig{Redis: client, Provider: "etherscan", Budget: 1})
	require.NoError(t, err)

	mr.Close()
	assert.NoError(t, q.Wait(context.Background()))
}

func TestWait_HonorsContext(t *testing.T) {
	client, _ := newTestRedis(t)
	q, err := NewSharedQuota(&SharedQuotaConfig{Redis: client, Provider: "etherscan", Budget: 1, WindowSize: time.Hour})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}
