package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/device"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// RegisterEdgeDevice registers a new edge device with the Edge
// Coordinator. Triggers onDeviceConnected via the event bus, which
// pushes the cached global model to the device if one exists.
func (n *FogNode) RegisterEdgeDevice(id, deviceType string, caps model.Capabilities, loc *model.Location) error {
	return n.coordinator.RegisterDevice(id, deviceType, caps, loc)
}

// UnregisterEdgeDevice removes a device from the registry.
func (n *FogNode) UnregisterEdgeDevice(id string) error {
	return n.coordinator.UnregisterDevice(id)
}

// SubmitTrainingUpdate admits update into the current aggregation
// round on behalf of deviceID. Returns a non-empty model.RejectReason
// if the update could not be admitted; deviceID is not required to be
// currently registered (an update from a device that has since
// disconnected is still evaluated on its own merits).
func (n *FogNode) SubmitTrainingUpdate(deviceID string, update model.EdgeUpdate) model.RejectReason {
	update.ClientID = deviceID
	return n.aggregator.AddEdgeUpdate(update)
}

// RequestModel returns the latest cached weights for modelID, falling
// back to the cloud transport (if configured) and caching the result
// on a successful fetch.
func (n *FogNode) RequestModel(ctx context.Context, modelID string) ([]byte, string, error) {
	if raw, version, ok := n.cache.GetLatestModel(modelID); ok {
		return raw, version, nil
	}
	if n.cloud == nil {
		return nil, "", model.ErrModelNotFound
	}

	raw, version, err := n.cloud.FetchGlobalModel(ctx, modelID)
	if err != nil {
		return nil, "", err
	}
	if err := n.cache.CacheModel(modelID, rawMessage(raw), version, nil); err != nil {
		n.log.Warn("failed to cache fetched global model", zap.String("model_id", modelID), zap.Error(err))
	}
	return raw, version, nil
}

// rawMessage lets an already-serialized payload be re-stored through
// Cache.Put (which marshals its input) without double-encoding it.
type rawMessage []byte

func (r rawMessage) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// AssignTask selects an eligible device for workloadType and pushes the
// resulting workload assignment to it over the edge transport, best
// effort: a push failure is logged but the assignment itself still
// stands (the device is expected to poll or receive via a side
// channel if the push does not land).
func (n *FogNode) AssignTask(workloadType string, params map[string]any, filter device.Filter) (model.Workload, error) {
	wl, err := n.coordinator.AssignWorkload(workloadType, params, filter)
	if err != nil {
		return model.Workload{}, err
	}

	if n.edge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.edge.SendWorkload(ctx, wl.DeviceID, wl); err != nil {
			n.log.Warn("failed to push workload assignment to device",
				zap.String("workload_id", wl.ID), zap.String("device_id", wl.DeviceID), zap.Error(err))
		}
	}
	return wl, nil
}

// CompleteWorkload reports a workload's outcome back through the Edge
// Coordinator, which fans out events.WorkloadCompleted.
func (n *FogNode) CompleteWorkload(workloadID string, result map[string]any, failed bool) error {
	return n.coordinator.CompleteWorkload(workloadID, result, failed)
}

// GetStatus returns a composite snapshot across all three owned
// components, the shape the peer transport's /status endpoint serves.
func (n *FogNode) GetStatus() map[string]any {
	return n.Status()
}

// Status implements transport.StatusProvider.
func (n *FogNode) Status() map[string]any {
	n.mu.Lock()
	lastStats := n.lastStatsAt
	n.mu.Unlock()

	return map[string]any{
		"fog_node_id":  n.id,
		"cache":        n.cache.Stats(),
		"aggregator":   n.aggregator.Stats(),
		"coordinator":  n.coordinator.Stats(),
		"last_stats_at": lastStats,
	}
}

// Devices implements transport.StatusProvider.
func (n *FogNode) Devices() []model.Device {
	return n.coordinator.ListDevices()
}

// RecentAggregations implements transport.StatusProvider.
func (n *FogNode) RecentAggregations() []model.AggregationResult {
	return n.aggregator.RecentResults()
}
