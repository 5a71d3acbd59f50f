package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haroune-bellatreche/fog-compute/internal/config"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

func TestLoadDefaultsWithoutPath(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "fog-node-1", cfg.FogNodeID())
	assert.Equal(t, int64(100<<20), cfg.CacheMaxSizeBytes())
	assert.Equal(t, 3, cfg.Aggregation.MinClients)
	assert.Equal(t, 120*time.Second, cfg.MaxWaitTime())
	assert.Equal(t, 24*time.Hour, cfg.CacheDefaultTTL())
	assert.Equal(t, 50, cfg.EdgeInterface.MaxEdgeClients)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval())
	assert.Equal(t, 300*time.Second, cfg.DeviceTimeout())
	assert.Equal(t, 60*time.Second, cfg.CloudSyncInterval())
	assert.Equal(t, model.StrategyFedAvg, cfg.Strategy())
}

func TestLoadOverridesFromDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fognode.yaml")
	doc := []byte(`
fog_node:
  id: fog-east-1
  region: us-east
aggregation:
  strategy: fedprox
  min_clients: 5
  max_wait_time: 45
caching:
  max_size_gb: 0.5
  ttl_hours: 12
edge_interface:
  max_edge_clients: 200
monitoring:
  health_check_interval: 15
  device_timeout: 120
cloud_interface:
  server_url: https://cloud.example.com
  sync_interval: 90
transport:
  peer_listen_addr: ":9090"
`)
	require.NoError(t, os.WriteFile(path, doc, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fog-east-1", cfg.FogNodeID())
	assert.Equal(t, "us-east", cfg.FogNode.Region)
	assert.Equal(t, model.StrategyFedProx, cfg.Strategy())
	assert.Equal(t, 5, cfg.Aggregation.MinClients)
	assert.Equal(t, 45*time.Second, cfg.MaxWaitTime())
	assert.InDelta(t, float64(0.5*(1<<30)), float64(cfg.CacheMaxSizeBytes()), 1)
	assert.Equal(t, 12*time.Hour, cfg.CacheDefaultTTL())
	assert.Equal(t, 200, cfg.EdgeInterface.MaxEdgeClients)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckInterval())
	assert.Equal(t, 120*time.Second, cfg.DeviceTimeout())
	assert.Equal(t, "https://cloud.example.com", cfg.CloudInterface.ServerURL)
	assert.Equal(t, 90*time.Second, cfg.CloudSyncInterval())
	assert.Equal(t, ":9090", cfg.Transport.PeerListenAddr)
}

func TestStrategyFallsBackToFedAvgForUnknownValue(t *testing.T) {
	cfg := config.Config{}
	cfg.Aggregation.Strategy = "not-a-real-strategy"
	assert.Equal(t, model.StrategyFedAvg, cfg.Strategy())
}
