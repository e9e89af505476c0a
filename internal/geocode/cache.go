package geocode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fishingmap/forum-crawler/internal/metrics"
)

var defaultRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// CacheConfig tunes the resolution cache.
type CacheConfig struct {
	// TTL is how long a successful result stays fresh.
	TTL time.Duration
	// NegativeTTL briefly caches no-result and low-confidence outcomes so
	// persistently bad input does not hammer the provider.
	NegativeTTL time.Duration
	// MinConfidence gates acceptance of provider results.
	MinConfidence float64
	// RetryBackoff holds the waits between transient-failure attempts.
	RetryBackoff []time.Duration
}

type cacheEntry struct {
	result    Result
	err       error
	negative  bool
	expiresAt time.Time
}

// Cache fronts a Provider with a TTL cache keyed by normalized place name.
// Concurrent resolutions of the same key collapse to one provider call.
type Cache struct {
	provider    Provider
	cfg         CacheConfig
	now         func() time.Time
	logger      *zap.Logger
	mu          sync.RWMutex
	entries     map[string]cacheEntry
	sf          singleflight.Group
	remoteCalls atomic.Uint64
}

// NewCache builds a Cache around provider. now may be nil (time.Now).
func NewCache(provider Provider, cfg CacheConfig, now func() time.Time, logger *zap.Logger) *Cache {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 10 * time.Minute
	}
	if len(cfg.RetryBackoff) == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Cache{
		provider: provider,
		cfg:      cfg,
		now:      now,
		logger:   logger,
		entries:  make(map[string]cacheEntry),
	}
}

// NormalizeKey trims, case-folds and collapses whitespace in a place name.
func NormalizeKey(placeName string) string {
	return strings.ToLower(strings.Join(strings.Fields(placeName), " "))
}

// RemoteCalls returns the cumulative number of provider calls issued.
func (c *Cache) RemoteCalls() uint64 { return c.remoteCalls.Load() }

// Resolve returns coordinates for placeName, consulting the cache first.
// An unexpired entry answers immediately with no remote call.
func (c *Cache) Resolve(ctx context.Context, placeName string) (Result, Origin, error) {
	key := NormalizeKey(placeName)
	if key == "" {
		return Result{}, OriginCache, fmt.Errorf("empty place name: %w", ErrNoResult)
	}
	if entry, ok := c.lookup(key); ok {
		metrics.ObserveGeocodeCache(true)
		if entry.negative {
			return Result{}, OriginCache, entry.err
		}
		return entry.result, OriginCache, nil
	}
	metrics.ObserveGeocodeCache(false)

	value, err, _ := c.sf.Do(key, func() (any, error) {
		// A waiter may have populated the entry while we queued.
		if entry, ok := c.lookup(key); ok {
			if entry.negative {
				return Result{}, entry.err
			}
			return entry.result, nil
		}
		return c.load(ctx, key, placeName)
	})
	if err != nil {
		return Result{}, OriginRemote, err
	}
	result, ok := value.(Result)
	if !ok {
		return Result{}, OriginRemote, fmt.Errorf("geocode cache value type mismatch: %T", value)
	}
	return result, OriginRemote, nil
}

func (c *Cache) lookup(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) load(ctx context.Context, key, placeName string) (Result, error) {
	result, err := c.callWithRetry(ctx, placeName)
	switch {
	case err == nil && result.Confidence < c.cfg.MinConfidence:
		c.logger.Info("geocode result rejected",
			zap.String("place", key),
			zap.Float64("confidence", result.Confidence),
			zap.Float64("threshold", c.cfg.MinConfidence),
		)
		err = fmt.Errorf("confidence %.2f below %.2f: %w", result.Confidence, c.cfg.MinConfidence, ErrLowConfidence)
		c.store(key, cacheEntry{err: err, negative: true, expiresAt: c.now().Add(c.cfg.NegativeTTL)})
		return Result{}, err
	case errors.Is(err, ErrNoResult):
		c.store(key, cacheEntry{err: err, negative: true, expiresAt: c.now().Add(c.cfg.NegativeTTL)})
		return Result{}, err
	case err != nil:
		// Provider outages are not cached; the next resolution retries.
		return Result{}, err
	}
	c.store(key, cacheEntry{result: result, expiresAt: c.now().Add(c.cfg.TTL)})
	return result, nil
}

func (c *Cache) store(key string, entry cacheEntry) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

func (c *Cache) callWithRetry(ctx context.Context, placeName string) (Result, error) {
	maxAttempts := len(c.cfg.RetryBackoff) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c.remoteCalls.Add(1)
		result, err := c.provider.Geocode(ctx, placeName)
		metrics.ObserveGeocodeCall(c.provider.Name(), err == nil || errors.Is(err, ErrNoResult))
		if err == nil || errors.Is(err, ErrNoResult) {
			return result, err
		}
		lastErr = err
		if !isTransientProviderError(err) || attempt == maxAttempts-1 {
			break
		}
		if serr := sleepWithContext(ctx, c.cfg.RetryBackoff[attempt]); serr != nil {
			return Result{}, serr
		}
	}
	return Result{}, fmt.Errorf("geocode %q: %w", NormalizeKey(placeName), lastErr)
}

func isTransientProviderError(err error) bool {
	// Per-attempt timeouts wrap context.DeadlineExceeded and are retryable;
	// an explicit cancel is not.
	if errors.Is(err, context.Canceled) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("geocode backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
