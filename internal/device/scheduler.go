package device

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/events"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// capabilityTable names the minimum capability requirements per
// workload type. A workload type absent from this table is assumed to
// have no special requirements beyond being online.
var capabilityTable = map[string]struct {
	MinCPUCores    int
	MinMemoryGB    float64
	MinBatteryPct  float64
	RequireSensors []string
}{
	"training":   {MinCPUCores: 2, MinMemoryGB: 1.0, MinBatteryPct: 20},
	"inference":  {MinCPUCores: 1, MinMemoryGB: 0.5, MinBatteryPct: 10},
	"sensing":    {MinCPUCores: 1, MinMemoryGB: 0.25, MinBatteryPct: 5},
	"aggregation": {MinCPUCores: 4, MinMemoryGB: 2.0, MinBatteryPct: 30},
}

// AssignWorkload selects the best-scoring eligible device for
// workloadType and assigns a new workload to it. filter, if non-nil,
// further narrows the candidate set. Returns model.ErrAssignmentRateLimited
// if the assignment admission limiter is exhausted, or
// model.ErrNoSuitableDevice when no device qualifies.
func (c *Coordinator) AssignWorkload(workloadType string, params map[string]any, filter Filter) (model.Workload, error) {
	if !c.limiter.Allow() {
		return model.Workload{}, model.ErrAssignmentRateLimited
	}

	c.mu.Lock()
	candidates := c.findSuitableDevicesLocked(workloadType, filter)
	if len(candidates) == 0 {
		c.mu.Unlock()
		return model.Workload{}, model.ErrNoSuitableDevice
	}

	best := c.selectOptimalDeviceLocked(candidates)
	now := time.Now()
	wl := model.Workload{
		ID:                 fmtWorkloadID(best.ID),
		DeviceID:           best.ID,
		Type:               workloadType,
		Parameters:         params,
		AssignedAt:         now,
		ExpectedCompletion: now.Add(DefaultWorkloadSoftDeadline),
		Status:             model.WorkloadAssigned,
	}
	c.workloads[wl.ID] = &wl
	best.CurrentWorkloadID = wl.ID
	best.Status = model.DeviceBusy
	snapshot := wl.Clone()
	c.mu.Unlock()

	c.log.Info("assigned workload",
		zap.String("workload_id", wl.ID),
		zap.String("device_id", best.ID),
		zap.String("workload_type", workloadType))
	return snapshot, nil
}

func (c *Coordinator) findSuitableDevicesLocked(workloadType string, filter Filter) []*model.Device {
	req, hasReq := capabilityTable[workloadType]
	var out []*model.Device
	for _, d := range c.devices {
		if d.Status != model.DeviceOnline && d.Status != model.DeviceIdle {
			continue
		}
		if hasReq && !canHandleWorkload(*d, req) {
			continue
		}
		if filter != nil && !filter(d.Clone()) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func canHandleWorkload(d model.Device, req struct {
	MinCPUCores    int
	MinMemoryGB    float64
	MinBatteryPct  float64
	RequireSensors []string
}) bool {
	if d.Capabilities.CPUCores < req.MinCPUCores {
		return false
	}
	if d.Capabilities.MemoryGB < req.MinMemoryGB {
		return false
	}
	if d.Capabilities.BatteryLevel < req.MinBatteryPct {
		return false
	}
	for _, sensor := range req.RequireSensors {
		if !hasSensor(d.Capabilities.Sensors, sensor) {
			return false
		}
	}
	return true
}

func hasSensor(sensors []string, want string) bool {
	for _, s := range sensors {
		if s == want {
			return true
		}
	}
	return false
}

// selectOptimalDeviceLocked picks the highest-scoring candidate,
// breaking ties by earliest ConnectedAt (the longest-registered device
// wins, matching the source's stable-sort tie-break).
func (c *Coordinator) selectOptimalDeviceLocked(candidates []*model.Device) *model.Device {
	sort.SliceStable(candidates, func(i, j int) bool {
		si := calculateDeviceScore(*candidates[i])
		sj := calculateDeviceScore(*candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].ConnectedAt.Before(candidates[j].ConnectedAt)
	})
	return candidates[0]
}

// calculateDeviceScore implements the four-component 0-100 scoring
// rubric: resources (0-40), performance history (0-30), battery
// (0-20), network (0-10).
func calculateDeviceScore(d model.Device) float64 {
	resourceScore := resourceComponent(d.Capabilities)
	perfScore := performanceComponent(d.PerformanceMetrics)
	batteryScore := (clamp(d.Capabilities.BatteryLevel, 0, 100) / 100) * 20
	networkScore := networkComponent(d.Capabilities.NetworkBandwidthMbps)
	return resourceScore + perfScore + batteryScore + networkScore
}

func resourceComponent(caps model.Capabilities) float64 {
	cpuScore := clamp(float64(caps.CPUCores)/8.0, 0, 1) * 20
	memScore := clamp(caps.MemoryGB/8.0, 0, 1) * 20
	return cpuScore + memScore
}

func performanceComponent(metrics model.PerformanceMetrics) float64 {
	successRate, ok := metrics["success_rate"]
	if !ok {
		return 15 // neutral midpoint absent history
	}
	return clamp(successRate, 0, 1) * 30
}

func networkComponent(bandwidthMbps float64) float64 {
	return clamp(bandwidthMbps/100.0, 0, 1) * 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CompleteWorkload marks a workload terminal and frees its device.
// Fires events.WorkloadCompleted with the workload's own result payload
// so the orchestrator can route training results into the aggregator.
func (c *Coordinator) CompleteWorkload(workloadID string, result map[string]any, failed bool) error {
	c.mu.Lock()
	wl, ok := c.workloads[workloadID]
	if !ok {
		c.mu.Unlock()
		return model.ErrUnknownWorkload
	}
	if failed {
		wl.Status = model.WorkloadFailed
	} else {
		wl.Status = model.WorkloadCompleted
	}
	wl.Result = result

	if dev, ok := c.devices[wl.DeviceID]; ok && dev.CurrentWorkloadID == workloadID {
		dev.CurrentWorkloadID = ""
		if dev.Status == model.DeviceBusy {
			dev.Status = model.DeviceIdle
		}
	}
	snapshot := wl.Clone()
	deviceID := wl.DeviceID
	workloadType := wl.Type
	c.mu.Unlock()

	c.bus.Emit(events.WorkloadCompleted, events.WorkloadCompletedPayload{
		Workload:     snapshot,
		DeviceID:     deviceID,
		WorkloadType: workloadType,
	})
	return nil
}

// checkDeviceHealth reaps devices whose LastSeen exceeds deviceTimeout,
// unregistering them exactly as UnregisterDevice would.
func (c *Coordinator) checkDeviceHealth() {
	now := time.Now()
	var stale []string
	c.mu.Lock()
	for id, d := range c.devices {
		if now.Sub(d.LastSeen) > c.deviceTimeout {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.log.Warn("device health check timeout, reaping", zap.String("device_id", id))
		if err := c.UnregisterDevice(id); err != nil {
			c.log.Error("failed to reap timed-out device", zap.String("device_id", id), zap.Error(err))
		}
	}
}

// checkWorkloadTimeouts marks non-terminal workloads past their
// ExpectedCompletion as failed and frees the owning device.
func (c *Coordinator) checkWorkloadTimeouts() {
	now := time.Now()
	var timedOut []string
	c.mu.Lock()
	for id, w := range c.workloads {
		if !w.Status.Terminal() && now.After(w.ExpectedCompletion) {
			timedOut = append(timedOut, id)
		}
	}
	c.mu.Unlock()

	for _, id := range timedOut {
		c.log.Warn("workload exceeded expected completion, marking failed", zap.String("workload_id", id))
		if err := c.CompleteWorkload(id, map[string]any{"error": "timeout"}, true); err != nil {
			c.log.Error("failed to fail timed-out workload", zap.String("workload_id", id), zap.Error(err))
		}
	}
}

// Stats summarizes the coordinator's current registry for the status
// endpoint.
type Stats struct {
	TotalDevices     int            `json:"total_devices"`
	DevicesByStatus  map[string]int `json:"devices_by_status"`
	ActiveWorkloads  int            `json:"active_workloads"`
	DeviceGroupCount int            `json:"device_group_count"`
}

// Stats returns a point-in-time snapshot of registry counts.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	byStatus := make(map[string]int)
	for _, d := range c.devices {
		byStatus[string(d.Status)]++
	}
	active := 0
	for _, w := range c.workloads {
		if !w.Status.Terminal() {
			active++
		}
	}
	return Stats{
		TotalDevices:     len(c.devices),
		DevicesByStatus:  byStatus,
		ActiveWorkloads:  active,
		DeviceGroupCount: len(c.deviceGroups),
	}
}
