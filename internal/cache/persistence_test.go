package cache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/cache"
)

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")

	c1 := cache.New(zap.NewNop(), 1<<20, cache.WithPersistence(path))
	ctx, cancel := context.WithCancel(context.Background())
	c1.Start(ctx)
	require.NoError(t, c1.Put("k1", "v1", 0, map[string]any{"tag": "a"}))
	require.NoError(t, c1.Put("k2", "v2", 0, nil))
	cancel()
	c1.Stop() // dumps to disk

	c2 := cache.New(zap.NewNop(), 1<<20, cache.WithPersistence(path))
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	c2.Start(ctx2) // loads from disk
	defer c2.Stop()

	raw, ok := c2.Get("k1")
	require.True(t, ok)

	var out string
	require.NoError(t, cache.Unmarshal(raw, &out))
	assert.Equal(t, "v1", out)
	assert.Equal(t, 2, c2.Stats().Entries)
}

func TestLoadFromDiskIgnoresSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"other-schema","entries":[]}`), 0o644))

	c := cache.New(zap.NewNop(), 1<<20, cache.WithPersistence(path))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx) // load failure is non-fatal
	defer c.Stop()

	assert.Equal(t, 0, c.Stats().Entries)
}
