// Package device implements the Edge Coordinator: the device registry,
// health tracker, workload scheduler, and multi-criteria device
// selector.
//
// Grounded on original_source/fog_node/edge_coordinator.py, with event
// dispatch re-architected onto internal/events per spec.md's design
// note (typed Kind enum instead of a dict of callables).
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/haroune-bellatreche/fog-compute/internal/events"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

const (
	// DefaultMaxEdgeDevices bounds the registry size when unconfigured.
	DefaultMaxEdgeDevices = 50
	// DefaultHealthCheckInterval is how often the monitoring loop scans
	// for timed-out devices and workloads.
	DefaultHealthCheckInterval = 30 * time.Second
	// DefaultDeviceTimeout is the inactivity window past which a device
	// is reaped.
	DefaultDeviceTimeout = 300 * time.Second
	// DefaultWorkloadSoftDeadline is how long a workload has to
	// complete before it is marked failed.
	DefaultWorkloadSoftDeadline = 300 * time.Second
	// lowPriorityCeiling is the highest priority value the overload
	// rule treats as non-critical; the low-battery rule cancels the
	// priorities above it.
	lowPriorityCeiling = 5
)

// Filter is a caller-supplied predicate further narrowing assignment
// candidates beyond the built-in capability table.
type Filter func(model.Device) bool

// Config bundles the coordinator's construction parameters.
type Config struct {
	FogNodeID           string
	MaxEdgeDevices      int
	HealthCheckInterval time.Duration
	DeviceTimeout       time.Duration
}

// Coordinator is the Edge Coordinator component. A single mutex guards
// all mutable state.
type Coordinator struct {
	log       *zap.Logger
	fogNodeID string
	bus       *events.Bus
	limiter   *rate.Limiter

	maxDevices    int
	healthPeriod  time.Duration
	deviceTimeout time.Duration

	mu           sync.Mutex
	devices      map[string]*model.Device
	workloads    map[string]*model.Workload
	deviceGroups map[string]map[string]struct{} // device_type -> set of device_id

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Coordinator. bus is owned by the caller (typically
// the orchestrator); the coordinator only emits onto it, never reads.
func New(log *zap.Logger, bus *events.Bus, cfg Config) *Coordinator {
	maxDevices := cfg.MaxEdgeDevices
	if maxDevices <= 0 {
		maxDevices = DefaultMaxEdgeDevices
	}
	healthPeriod := cfg.HealthCheckInterval
	if healthPeriod <= 0 {
		healthPeriod = DefaultHealthCheckInterval
	}
	deviceTimeout := cfg.DeviceTimeout
	if deviceTimeout <= 0 {
		deviceTimeout = DefaultDeviceTimeout
	}
	return &Coordinator{
		log:           log,
		fogNodeID:     cfg.FogNodeID,
		bus:           bus,
		limiter:       rate.NewLimiter(rate.Limit(50), 50),
		maxDevices:    maxDevices,
		healthPeriod:  healthPeriod,
		deviceTimeout: deviceTimeout,
		devices:       make(map[string]*model.Device),
		workloads:     make(map[string]*model.Workload),
		deviceGroups:  make(map[string]map[string]struct{}),
	}
}

// Start begins the health-check monitoring loop.
func (c *Coordinator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.monitoringLoop(loopCtx)
}

// Stop cancels the monitoring loop and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) monitoringLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.healthPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runMonitoringTickSafely()
		}
	}
}

func (c *Coordinator) runMonitoringTickSafely() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("coordinator monitoring loop panicked, restarting on next tick", zap.Any("recovered", r))
		}
	}()
	c.checkDeviceHealth()
	c.checkWorkloadTimeouts()
}

// RegisterDevice registers a new edge device. Fails with
// model.ErrCapacityExceeded past MaxEdgeDevices, or
// model.ErrAlreadyRegistered if id is already present.
func (c *Coordinator) RegisterDevice(id, deviceType string, caps model.Capabilities, loc *model.Location) error {
	c.mu.Lock()
	if len(c.devices) >= c.maxDevices {
		c.mu.Unlock()
		return model.ErrCapacityExceeded
	}
	if _, exists := c.devices[id]; exists {
		c.mu.Unlock()
		return model.ErrAlreadyRegistered
	}

	now := time.Now()
	dev := &model.Device{
		ID:                 id,
		Type:               deviceType,
		Capabilities:       caps,
		Status:             model.DeviceOnline,
		ConnectedAt:        now,
		LastSeen:           now,
		PerformanceMetrics: model.PerformanceMetrics{},
		Location:           loc,
	}
	c.devices[id] = dev
	c.addToGroupLocked(id, deviceType)
	snapshot := dev.Clone()
	c.mu.Unlock()

	c.log.Info("registered edge device", zap.String("device_id", id), zap.String("device_type", deviceType))
	c.bus.Emit(events.DeviceConnected, snapshot)
	return nil
}

// UnregisterDevice removes a device, cancelling its active workloads
// first. Returns model.ErrUnknownDevice if id is not registered.
func (c *Coordinator) UnregisterDevice(id string) error {
	c.mu.Lock()
	dev, ok := c.devices[id]
	if !ok {
		c.mu.Unlock()
		return model.ErrUnknownDevice
	}

	c.cancelDeviceWorkloadsLocked(id, cancelAll)
	c.removeFromGroupsLocked(id)
	delete(c.devices, id)
	snapshot := dev.Clone()
	c.mu.Unlock()

	c.log.Info("unregistered edge device", zap.String("device_id", id))
	c.bus.Emit(events.DeviceDisconnected, snapshot)
	return nil
}

// UpdateDeviceStatus refreshes status/last_seen and merges metrics into
// the device's rolling performance metrics. Transitioning to Overloaded
// cancels non-critical assignments and fires DeviceOverloaded;
// transitioning to LowBattery cancels the critical set (see DESIGN.md
// open question on cancellation polarity).
func (c *Coordinator) UpdateDeviceStatus(id string, status model.DeviceStatus, metrics model.PerformanceMetrics) error {
	c.mu.Lock()
	dev, ok := c.devices[id]
	if !ok {
		c.mu.Unlock()
		return model.ErrUnknownDevice
	}

	dev.Status = status
	dev.LastSeen = time.Now()
	for k, v := range metrics {
		dev.PerformanceMetrics[k] = v
	}

	var fireOverloaded bool
	switch status {
	case model.DeviceOverloaded:
		c.cancelDeviceWorkloadsLocked(id, cancelOverload)
		fireOverloaded = true
	case model.DeviceLowBattery:
		c.cancelDeviceWorkloadsLocked(id, cancelLowBattery)
	}
	snapshot := dev.Clone()
	c.mu.Unlock()

	if fireOverloaded {
		c.log.Warn("device overloaded", zap.String("device_id", id))
		c.bus.Emit(events.DeviceOverloaded, snapshot)
	}
	return nil
}

// cancelMode selects which of a device's non-terminal workloads
// cancelWorkloads/cancelDeviceWorkloadsLocked tears down.
type cancelMode int

const (
	// cancelAll unconditionally cancels every non-terminal workload
	// assigned to the device, regardless of priority. Used when the
	// device itself is leaving the registry (UnregisterDevice): there is
	// no partial-load-shedding rationale once the device is gone, and a
	// workload left referencing a deregistered device would violate the
	// invariant that every workload targets a currently-registered
	// device.
	cancelAll cancelMode = iota
	// cancelOverload cancels assignments with priority <= 5
	// (non-critical), matching "shed non-critical load".
	cancelOverload
	// cancelLowBattery cancels assignments with priority > 5 — the
	// inverse of the obvious "keep critical, shed non-critical" rule.
	// This matches the source's actual heuristic
	// (_cancel_device_workloads(critical_only=True) keeps priority<=5
	// and cancels priority>5) even though it reads backwards; preserved
	// as specified, not silently fixed. See DESIGN.md.
	cancelLowBattery
)

// cancelWorkloads cancels the device's non-terminal workloads under mode
// and locks internally.
func (c *Coordinator) cancelWorkloads(deviceID string, mode cancelMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDeviceWorkloadsLocked(deviceID, mode)
}

func (c *Coordinator) cancelDeviceWorkloadsLocked(deviceID string, mode cancelMode) {
	var cancelled int
	for _, w := range c.workloads {
		if w.DeviceID != deviceID || w.Status.Terminal() {
			continue
		}
		priority := w.Priority()
		switch mode {
		case cancelLowBattery:
			if priority <= lowPriorityCeiling {
				continue // keep: low-battery rule cancels the HIGH-priority set
			}
		case cancelOverload:
			if priority > lowPriorityCeiling {
				continue // keep: overload rule cancels the LOW-priority set
			}
		case cancelAll:
			// no filter: every non-terminal workload is cancelled
		}
		w.Status = model.WorkloadCancelled
		cancelled++
	}
	if cancelled > 0 {
		c.log.Info("cancelled workloads for device", zap.String("device_id", deviceID), zap.Int("count", cancelled))
	}
	if dev, ok := c.devices[deviceID]; ok {
		dev.CurrentWorkloadID = ""
		if dev.Status != model.DeviceOverloaded && dev.Status != model.DeviceLowBattery {
			dev.Status = model.DeviceIdle
		}
	}
}

func (c *Coordinator) addToGroupLocked(id, deviceType string) {
	group, ok := c.deviceGroups[deviceType]
	if !ok {
		group = make(map[string]struct{})
		c.deviceGroups[deviceType] = group
	}
	group[id] = struct{}{}
}

func (c *Coordinator) removeFromGroupsLocked(id string) {
	for _, group := range c.deviceGroups {
		delete(group, id)
	}
}

// DeviceSnapshot returns a defensive copy of a registered device, or
// (zero, false) if unknown.
func (c *Coordinator) DeviceSnapshot(id string) (model.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.devices[id]
	if !ok {
		return model.Device{}, false
	}
	return dev.Clone(), true
}

// WorkloadSnapshot returns a defensive copy of a tracked workload
// (terminal or not), or (zero, false) if unknown.
func (c *Coordinator) WorkloadSnapshot(id string) (model.Workload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wl, ok := c.workloads[id]
	if !ok {
		return model.Workload{}, false
	}
	return wl.Clone(), true
}

// ListDevices returns defensive copies of every registered device, used
// by the peer transport's enumeration endpoint.
func (c *Coordinator) ListDevices() []model.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.Clone())
	}
	return out
}

// fmtWorkloadID matches the source's "workload_{unix_ts}_{device_id}"
// naming scheme exactly.
func fmtWorkloadID(deviceID string) string {
	return fmt.Sprintf("workload_%d_%s", time.Now().Unix(), deviceID)
}
