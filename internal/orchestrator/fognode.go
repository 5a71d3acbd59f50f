// Package orchestrator implements the Fog Orchestrator: the component
// that owns the Model Cache, Regional Aggregator, and Edge Coordinator,
// wires their events together, and exposes the node's public API.
//
// Grounded on original_source/fog_node/__init__.py (FogNode) one-to-one:
// component construction, dependency-ordered start/stop,
// _setup_event_handlers, _on_device_connected, _on_workload_completed,
// the 30s monitoring loop and 60s stats loop, and the public API
// surface (register_edge_device, submit_training_update,
// request_model, assign_task, get_status).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/aggregator"
	"github.com/haroune-bellatreche/fog-compute/internal/cache"
	"github.com/haroune-bellatreche/fog-compute/internal/device"
	"github.com/haroune-bellatreche/fog-compute/internal/events"
	"github.com/haroune-bellatreche/fog-compute/internal/metrics"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
	"github.com/haroune-bellatreche/fog-compute/internal/transport"
)

const (
	// monitoringInterval matches the source's 30s health/round-trigger
	// sweep.
	monitoringInterval = 30 * time.Second
	// statsInterval matches the source's 60s stats rollup.
	statsInterval = 60 * time.Second
	// globalModelID is the reserved model ID the orchestrator fetches
	// from the cloud and distributes to newly connected devices.
	globalModelID = "global"
)

// Config bundles the parameters needed to construct every owned
// component. Zero-value transports are permitted: a nil EdgeTransport
// or CloudTransport simply disables the corresponding push (skipped
// without a log line, not fatal), since the spec treats the outer
// transports as optional.
type Config struct {
	FogNodeID string

	CacheMaxSizeBytes int64
	CachePersistPath  string

	AggregationStrategy model.Strategy
	MinClients          int
	MaxWaitTime         time.Duration

	MaxEdgeDevices      int
	HealthCheckInterval time.Duration
	DeviceTimeout       time.Duration

	EdgeTransport  transport.EdgeTransport
	CloudTransport transport.CloudTransport
	PeerTransport  transport.PeerTransport

	// MetricsRegistry is optional; when nil, stats rollups are logged
	// only and nothing is pushed to Prometheus.
	MetricsRegistry *metrics.Registry
}

// FogNode is the orchestrator. It owns the lifecycle of the Model
// Cache, Regional Aggregator, and Edge Coordinator and is the only
// component that talks to the outer transports.
type FogNode struct {
	log       *zap.Logger
	id        string
	bus       *events.Bus
	cache     *cache.Cache
	aggregator *aggregator.Aggregator
	coordinator *device.Coordinator

	edge  transport.EdgeTransport
	cloud transport.CloudTransport
	peer  transport.PeerTransport

	metricsUpdater *metrics.Updater

	mu          sync.Mutex
	lastStatsAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a FogNode and wires its internal event handlers. It
// does not start any goroutines; call Start for that.
func New(log *zap.Logger, cfg Config) *FogNode {
	bus := events.NewBus(log)

	c := cache.New(log, cfg.CacheMaxSizeBytes, cacheOptions(cfg)...)
	coord := device.New(log, bus, device.Config{
		FogNodeID:           cfg.FogNodeID,
		MaxEdgeDevices:      cfg.MaxEdgeDevices,
		HealthCheckInterval: cfg.HealthCheckInterval,
		DeviceTimeout:       cfg.DeviceTimeout,
	})

	n := &FogNode{
		log:         log,
		id:          cfg.FogNodeID,
		bus:         bus,
		cache:       c,
		coordinator: coord,
		edge:        cfg.EdgeTransport,
		cloud:       cfg.CloudTransport,
		peer:        cfg.PeerTransport,
	}
	if cfg.MetricsRegistry != nil {
		n.metricsUpdater = metrics.NewUpdater(cfg.MetricsRegistry)
	}

	n.aggregator = aggregator.New(log, aggregator.Config{
		FogNodeID:   cfg.FogNodeID,
		Strategy:    cfg.AggregationStrategy,
		MinClients:  cfg.MinClients,
		MaxWaitTime: cfg.MaxWaitTime,
		OnResult:    n.onAggregationResult,
	})

	n.setupEventHandlers()
	return n
}

func cacheOptions(cfg Config) []cache.Option {
	var opts []cache.Option
	if cfg.CachePersistPath != "" {
		opts = append(opts, cache.WithPersistence(cfg.CachePersistPath))
	}
	return opts
}

// setupEventHandlers subscribes the orchestrator's own reactions to the
// coordinator's event bus: a newly connected device gets the latest
// cached global model pushed to it, and a completed training workload
// becomes an edge update admitted into the current aggregation round.
func (n *FogNode) setupEventHandlers() {
	n.bus.Subscribe(events.DeviceConnected, func(payload any) {
		dev := payload.(model.Device)
		n.onDeviceConnected(dev)
	})
	n.bus.Subscribe(events.WorkloadCompleted, func(payload any) {
		p := payload.(events.WorkloadCompletedPayload)
		n.onWorkloadCompleted(p)
	})
	n.bus.Subscribe(events.DeviceOverloaded, func(payload any) {
		dev := payload.(model.Device)
		n.log.Warn("edge device reported overloaded", zap.String("device_id", dev.ID))
	})
}

func (n *FogNode) onDeviceConnected(dev model.Device) {
	if n.edge == nil {
		return
	}
	raw, version, ok := n.cache.GetLatestModel(globalModelID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.edge.SendModel(ctx, dev.ID, raw, version); err != nil {
		n.log.Warn("failed to push cached model to newly connected device",
			zap.String("device_id", dev.ID), zap.Error(err))
	}
}

// onWorkloadCompleted routes a completed training workload's result
// into the aggregator as an edge update. Non-training workload types
// and failed workloads are logged and otherwise ignored; the spec does
// not require non-training workloads to participate in aggregation.
func (n *FogNode) onWorkloadCompleted(p events.WorkloadCompletedPayload) {
	if p.WorkloadType != "training" || p.Workload.Status != model.WorkloadCompleted {
		return
	}
	update, err := trainingUpdateFromResult(p.DeviceID, p.Workload.Result)
	if err != nil {
		n.log.Warn("completed training workload had an unusable result payload",
			zap.String("device_id", p.DeviceID), zap.Error(err))
		return
	}

	reason := n.aggregator.AddEdgeUpdate(update)
	if reason != "" {
		n.log.Info("training update not admitted to current round",
			zap.String("device_id", p.DeviceID), zap.String("reason", string(reason)))
	}
}

func trainingUpdateFromResult(deviceID string, result map[string]any) (model.EdgeUpdate, error) {
	if result == nil {
		return model.EdgeUpdate{}, fmt.Errorf("training workload completed with no result payload")
	}
	weights, err := weightsFromResult(result["model_weights"])
	if err != nil {
		return model.EdgeUpdate{}, err
	}
	return model.EdgeUpdate{
		ClientID:     deviceID,
		ModelWeights: weights,
		SampleCount:  asInt(result["sample_count"]),
		TrainingLoss: asFloat(result["training_loss"]),
		Timestamp:    time.Now(),
	}, nil
}

// weightsFromResult accepts either an already-typed model.Weights (the
// direct Go-call path) or the map[string]interface{}/[]interface{}
// shape a JSON-decoded result produces, so callers driving workload
// completion over the HTTP transport get the same admission behavior
// as callers using the package API directly.
func weightsFromResult(raw any) (model.Weights, error) {
	switch v := raw.(type) {
	case model.Weights:
		return v, nil
	case map[string]any:
		out := make(model.Weights, len(v))
		for name, vals := range v {
			slice, ok := vals.([]any)
			if !ok {
				return nil, fmt.Errorf("model_weights[%s] is not a numeric array", name)
			}
			out[name] = make([]float64, len(slice))
			for i, x := range slice {
				out[name][i] = asFloat(x)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("result missing model_weights")
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// onAggregationResult caches a completed round's weights and forwards
// them to the cloud tier, then starts the next round so aggregation
// proceeds continuously rather than one-shot.
func (n *FogNode) onAggregationResult(result model.AggregationResult) {
	version := fmt.Sprintf("round-%d", result.Round)
	if err := n.cache.CacheModel(globalModelID, result.AggregatedWeights, version, map[string]any{
		"round": result.Round,
	}); err != nil {
		n.log.Error("failed to cache aggregated model", zap.Error(err))
	}
	if err := n.cache.CacheAggregationResult(version, result.AggregatedWeights, map[string]any{
		"clients": result.ParticipatingClients,
		"samples": result.TotalSamples,
	}); err != nil {
		n.log.Error("failed to cache aggregation result", zap.Error(err))
	}

	if n.cloud != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.cloud.PushAggregationResult(ctx, result); err != nil {
			n.log.Warn("failed to push aggregation result upstream", zap.Int("round", result.Round), zap.Error(err))
		}
	}

	if n.ctx != nil && n.ctx.Err() == nil {
		n.aggregator.StartRound(n.ctx)
	}
}
