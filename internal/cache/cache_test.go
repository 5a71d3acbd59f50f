package cache_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/cache"
)

func newTestCache(t *testing.T, maxBytes int64) *cache.Cache {
	t.Helper()
	return cache.New(zap.NewNop(), maxBytes)
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.Put("k1", map[string]string{"a": "b"}, 0, nil))

	raw, ok := c.Get("k1")
	require.True(t, ok)

	var out map[string]string
	require.NoError(t, cache.Unmarshal(raw, &out))
	assert.Equal(t, "b", out["a"])
}

func TestGetMissIncrementsCounters(t *testing.T) {
	c := newTestCache(t, 1<<20)
	_, ok := c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.TotalRequests)
}

func TestTooLargeRejected(t *testing.T) {
	c := newTestCache(t, 4)
	err := c.Put("big", "this payload is definitely bigger than four bytes", 0, nil)
	require.Error(t, err)
}

func TestIdempotentPut(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.Put("k", "v", 0, nil))
	require.NoError(t, c.Put("k", "v", 0, nil))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.Put("k", "v", 10*time.Millisecond, nil))
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCleanupExpiredRemovesStaleEntries(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.Put("k", "v", 10*time.Millisecond, nil))
	time.Sleep(20 * time.Millisecond)

	n := c.CleanupExpired()
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, c.Stats().Entries)
}

// TestLRUEvictionUnderPressure implements scenario 4 from spec.md §8:
// put("a", 600B); put("b", 300B); get("a"); put("c", 500B) evicts b.
// The bound is 1100 bytes so that a and c fit together once b is gone.
func TestLRUEvictionUnderPressure(t *testing.T) {
	c := newTestCache(t, 1100)

	require.NoError(t, c.Put("a", strings.Repeat("a", 598), 0, nil)) // 600B with JSON quotes
	require.NoError(t, c.Put("b", strings.Repeat("b", 298), 0, nil)) // 300B

	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Put("c", strings.Repeat("c", 498), 0, nil)) // 500B

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	assert.True(t, aOK, "a should survive (recently used)")
	assert.False(t, bOK, "b should be evicted (least recently used)")
	assert.True(t, cOK)

	assert.GreaterOrEqual(t, c.Stats().Evictions, int64(1))
}

func TestModelVersionIndexing(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.CacheModel("global", []float64{1, 2, 3}, "v1", nil))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.CacheModel("global", []float64{4, 5, 6}, "v2", nil))

	raw, version, ok := c.GetLatestModel("global")
	require.True(t, ok)
	assert.Equal(t, "v2", version)

	var weights []float64
	require.NoError(t, cache.Unmarshal(raw, &weights))
	assert.Equal(t, []float64{4, 5, 6}, weights)
}

func TestAggregationResultCaching(t *testing.T) {
	c := newTestCache(t, 1<<20)
	require.NoError(t, c.CacheAggregationResult("round-1", map[string][]float64{"w": {1, 2}}, map[string]any{"clients": 3}))

	raw, ok := c.Get("aggregation:round-1")
	require.True(t, ok)

	var out map[string][]float64
	require.NoError(t, cache.Unmarshal(raw, &out))
	assert.Equal(t, []float64{1, 2}, out["w"])
}

func TestStartStopRunsCleanupLoop(t *testing.T) {
	c := newTestCache(t, 1<<20)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	defer cancel()
	require.NoError(t, c.Put("k", "v", 0, nil))
	c.Stop()
}
