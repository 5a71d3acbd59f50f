package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/device"
	"github.com/haroune-bellatreche/fog-compute/internal/events"
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

func newCoordinator(t *testing.T, cfg device.Config) (*device.Coordinator, *events.Bus) {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	return device.New(zap.NewNop(), bus, cfg), bus
}

func strongCaps() model.Capabilities {
	return model.Capabilities{CPUCores: 8, MemoryGB: 8, BatteryLevel: 100, NetworkBandwidthMbps: 100}
}

func TestRegisterAndUnregisterDevice(t *testing.T) {
	c, bus := newCoordinator(t, device.Config{FogNodeID: "fog-1"})

	var connected []model.Device
	var mu sync.Mutex
	bus.Subscribe(events.DeviceConnected, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		connected = append(connected, payload.(model.Device))
	})

	require.NoError(t, c.RegisterDevice("d1", "sensor", strongCaps(), nil))
	assert.Equal(t, model.ErrAlreadyRegistered, c.RegisterDevice("d1", "sensor", strongCaps(), nil))

	mu.Lock()
	require.Len(t, connected, 1)
	assert.Equal(t, "d1", connected[0].ID)
	mu.Unlock()

	require.NoError(t, c.UnregisterDevice("d1"))
	assert.Equal(t, model.ErrUnknownDevice, c.UnregisterDevice("d1"))
}

func TestRegisterDeviceCapacityExceeded(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1", MaxEdgeDevices: 1})
	require.NoError(t, c.RegisterDevice("d1", "sensor", strongCaps(), nil))
	assert.Equal(t, model.ErrCapacityExceeded, c.RegisterDevice("d2", "sensor", strongCaps(), nil))
}

func TestAssignWorkloadPicksHighestScoringCandidate(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})

	weak := model.Capabilities{CPUCores: 2, MemoryGB: 1, BatteryLevel: 25, NetworkBandwidthMbps: 5}
	require.NoError(t, c.RegisterDevice("weak", "phone", weak, nil))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.RegisterDevice("strong", "server", strongCaps(), nil))

	wl, err := c.AssignWorkload("training", map[string]any{"priority": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "strong", wl.DeviceID)
	assert.Equal(t, model.WorkloadAssigned, wl.Status)
}

func TestAssignWorkloadNoSuitableDevice(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	weak := model.Capabilities{CPUCores: 1, MemoryGB: 0.25, BatteryLevel: 5, NetworkBandwidthMbps: 1}
	require.NoError(t, c.RegisterDevice("weak", "phone", weak, nil))

	_, err := c.AssignWorkload("training", nil, nil)
	assert.Equal(t, model.ErrNoSuitableDevice, err)
}

func TestAssignWorkloadRateLimited(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})

	var last error
	for i := 0; i < 51; i++ {
		_, last = c.AssignWorkload("training", nil, nil)
	}
	require.Error(t, last)
	assert.ErrorIs(t, last, model.ErrAssignmentRateLimited)
	assert.False(t, errors.Is(last, model.ErrNoSuitableDevice))
}

func TestAssignWorkloadFilterNarrowsCandidates(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	require.NoError(t, c.RegisterDevice("a", "server", strongCaps(), nil))
	require.NoError(t, c.RegisterDevice("b", "server", strongCaps(), nil))

	wl, err := c.AssignWorkload("training", nil, func(d model.Device) bool {
		return d.ID == "b"
	})
	require.NoError(t, err)
	assert.Equal(t, "b", wl.DeviceID)
}

func TestCompleteWorkloadFreesDeviceAndEmits(t *testing.T) {
	c, bus := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	require.NoError(t, c.RegisterDevice("d1", "server", strongCaps(), nil))

	var got events.WorkloadCompletedPayload
	var mu sync.Mutex
	bus.Subscribe(events.WorkloadCompleted, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		got = payload.(events.WorkloadCompletedPayload)
	})

	wl, err := c.AssignWorkload("inference", nil, nil)
	require.NoError(t, err)

	require.NoError(t, c.CompleteWorkload(wl.ID, map[string]any{"accuracy": 0.9}, false))

	mu.Lock()
	assert.Equal(t, "d1", got.DeviceID)
	assert.Equal(t, "inference", got.WorkloadType)
	assert.Equal(t, model.WorkloadCompleted, got.Workload.Status)
	mu.Unlock()

	snap, ok := c.DeviceSnapshot("d1")
	require.True(t, ok)
	assert.Equal(t, model.DeviceIdle, snap.Status)
	assert.Empty(t, snap.CurrentWorkloadID)
}

func TestCompleteUnknownWorkload(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	assert.Equal(t, model.ErrUnknownWorkload, c.CompleteWorkload("nope", nil, false))
}

// TestDeviceTimeoutReapsAndEmitsOnce implements scenario 5 from
// spec.md §8: a device that stops heartbeating past its timeout is
// reaped by the health check and fires device_disconnected exactly
// once.
func TestDeviceTimeoutReapsAndEmitsOnce(t *testing.T) {
	c, bus := newCoordinator(t, device.Config{
		FogNodeID:           "fog-1",
		HealthCheckInterval: 20 * time.Millisecond,
		DeviceTimeout:       30 * time.Millisecond,
	})

	var disconnects int
	var mu sync.Mutex
	bus.Subscribe(events.DeviceDisconnected, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		disconnects++
	})

	require.NoError(t, c.RegisterDevice("stale", "sensor", strongCaps(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, ok := c.DeviceSnapshot("stale")
		return !ok
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond) // give a couple extra ticks to confirm no repeat emission

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, disconnects)
}

func TestUnregisterDeviceCancelsAllWorkloadsRegardlessOfPriority(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	require.NoError(t, c.RegisterDevice("d1", "server", strongCaps(), nil))

	lowPriority, err := c.AssignWorkload("inference", map[string]any{"priority": 1}, nil)
	require.NoError(t, err)

	require.NoError(t, c.UnregisterDevice("d1"))

	wl, ok := c.WorkloadSnapshot(lowPriority.ID)
	require.True(t, ok)
	assert.Equal(t, model.WorkloadCancelled, wl.Status)
}

// TestDeviceTimeoutCancelsHighPriorityWorkload extends scenario 5 from
// spec.md §8: a device reaped on health-check timeout must have every
// non-terminal workload cancelled, including high-priority (>5) ones
// that the overload/low-battery partial-cancel rules would normally
// spare.
func TestDeviceTimeoutCancelsHighPriorityWorkload(t *testing.T) {
	c, bus := newCoordinator(t, device.Config{
		FogNodeID:           "fog-1",
		HealthCheckInterval: 20 * time.Millisecond,
		DeviceTimeout:       30 * time.Millisecond,
	})

	var disconnects int
	var mu sync.Mutex
	bus.Subscribe(events.DeviceDisconnected, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		disconnects++
	})

	require.NoError(t, c.RegisterDevice("stale", "sensor", strongCaps(), nil))
	wl, err := c.AssignWorkload("training", map[string]any{"priority": 9}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.Eventually(t, func() bool {
		_, ok := c.DeviceSnapshot("stale")
		return !ok
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, disconnects)
	mu.Unlock()

	snap, ok := c.WorkloadSnapshot(wl.ID)
	require.True(t, ok)
	assert.Equal(t, model.WorkloadCancelled, snap.Status)
}

func TestUpdateDeviceStatusOverloadCancelsLowPriority(t *testing.T) {
	c, bus := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	require.NoError(t, c.RegisterDevice("d1", "server", strongCaps(), nil))

	var overloaded int
	bus.Subscribe(events.DeviceOverloaded, func(payload any) { overloaded++ })

	_, err := c.AssignWorkload("inference", map[string]any{"priority": 2}, nil)
	require.NoError(t, err)

	require.NoError(t, c.UpdateDeviceStatus("d1", model.DeviceOverloaded, model.PerformanceMetrics{"cpu": 0.95}))
	assert.Equal(t, 1, overloaded)

	snap, ok := c.DeviceSnapshot("d1")
	require.True(t, ok)
	assert.Equal(t, model.DeviceOverloaded, snap.Status)
}

func TestStatsReflectsRegistry(t *testing.T) {
	c, _ := newCoordinator(t, device.Config{FogNodeID: "fog-1"})
	require.NoError(t, c.RegisterDevice("d1", "server", strongCaps(), nil))
	require.NoError(t, c.RegisterDevice("d2", "sensor", strongCaps(), nil))

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalDevices)
	assert.Equal(t, 2, stats.DeviceGroupCount)
}
