package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	limiter := New(Config{RequestsPerSecond: 0, Burst: 1, MaxConcurrency: 1})
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestConcurrencyCeilingHolds(t *testing.T) {
	t.Parallel()

	const ceiling = 2
	limiter := New(Config{RequestsPerSecond: 0, Burst: ceiling, MaxConcurrency: ceiling})

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background())
			require.NoError(t, err)
			defer release()

			now := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				current := peak.Load()
				if now <= current || peak.CompareAndSwap(current, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(ceiling))
}

func TestRateBoundsRequestSpacing(t *testing.T) {
	t.Parallel()

	// 20 rps with burst 1: four acquisitions need at least ~150ms.
	limiter := New(Config{RequestsPerSecond: 20, Burst: 1, MaxConcurrency: 4})
	start := time.Now()
	for i := 0; i < 4; i++ {
		release, err := limiter.Acquire(context.Background())
		require.NoError(t, err)
		release()
	}
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	t.Parallel()

	limiter := New(Config{RequestsPerSecond: 0, Burst: 1, MaxConcurrency: 1})
	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
