package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/aggregator"
	"github.com/haroune-bellatreche/fog-compute/internal/metrics"
)

// Start brings up every owned component in dependency order — cache,
// then coordinator, then the first aggregation round, then the peer
// transport — and begins the monitoring and stats background loops.
// Grounded on FogNode.start's component ordering in the source.
func (n *FogNode) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	n.cache.Start(n.ctx)
	n.coordinator.Start(n.ctx)
	n.aggregator.StartRound(n.ctx)

	if n.peer != nil {
		if err := n.peer.Start(n.ctx); err != nil {
			return err
		}
	}

	n.wg.Add(2)
	go n.monitoringLoop(n.ctx)
	go n.statsLoop(n.ctx)

	n.log.Info("fog node started", zap.String("fog_node_id", n.id))
	return nil
}

// Stop tears down components in reverse dependency order, giving the
// peer transport a grace period to drain in-flight requests.
func (n *FogNode) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	if n.peer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.peer.Stop(shutdownCtx); err != nil {
			n.log.Warn("peer transport shutdown error", zap.Error(err))
		}
	}

	n.aggregator.Cleanup()
	n.coordinator.Stop()
	n.cache.Stop()

	n.log.Info("fog node stopped", zap.String("fog_node_id", n.id))
	return nil
}

func (n *FogNode) monitoringLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(monitoringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.checkAggregationTrigger(ctx)
		}
	}
}

// checkAggregationTrigger restarts the round-coordination goroutine
// whenever the aggregator has fallen idle without a round in flight —
// this is what keeps aggregation running continuously instead of
// stopping after the very first round, mirroring the source's
// monitoring loop nudging the next cycle along.
func (n *FogNode) checkAggregationTrigger(ctx context.Context) {
	if n.aggregator.State() == aggregator.Idle {
		n.aggregator.StartRound(ctx)
	}
}

func (n *FogNode) statsLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mu.Lock()
			n.lastStatsAt = time.Now()
			n.mu.Unlock()
			n.logStats()
		}
	}
}

func (n *FogNode) logStats() {
	cacheStats := n.cache.Stats()
	aggStats := n.aggregator.Stats()
	devStats := n.coordinator.Stats()

	n.log.Info("fog node stats rollup",
		zap.String("fog_node_id", n.id),
		zap.Int("cache_entries", cacheStats.Entries),
		zap.Float64("cache_hit_rate", cacheStats.HitRate()),
		zap.Int("rounds_completed", aggStats.RoundsCompleted),
		zap.Int("total_devices", devStats.TotalDevices),
		zap.Int("active_workloads", devStats.ActiveWorkloads),
	)

	if n.metricsUpdater != nil {
		n.metricsUpdater.Update(metrics.Snapshot{
			CacheHitRate:     cacheStats.HitRate(),
			CacheEntries:     cacheStats.Entries,
			CacheEvictions:   cacheStats.Evictions,
			RoundsCompleted:  aggStats.RoundsCompleted,
			ConnectedDevices: devStats.TotalDevices,
			ActiveWorkloads:  devStats.ActiveWorkloads,
		})
	}
}
