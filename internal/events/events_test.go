package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/events"
)

func TestEmitDispatchesInRegistrationOrder(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	var order []int

	bus.Subscribe(events.DeviceConnected, func(any) { order = append(order, 1) })
	bus.Subscribe(events.DeviceConnected, func(any) { order = append(order, 2) })
	bus.Emit(events.DeviceConnected, nil)

	assert.Equal(t, []int{1, 2}, order)
}

func TestEmitIsolatesPanickingSubscriber(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	var secondCalled bool

	bus.Subscribe(events.DeviceOverloaded, func(any) { panic("boom") })
	bus.Subscribe(events.DeviceOverloaded, func(any) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Emit(events.DeviceOverloaded, nil)
	})
	assert.True(t, secondCalled)
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	assert.NotPanics(t, func() {
		bus.Emit(events.WorkloadCompleted, events.WorkloadCompletedPayload{})
	})
}
