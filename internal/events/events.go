// Package events implements the typed event fan-out the Edge Coordinator
// uses to notify subscribers of device/workload lifecycle transitions.
//
// The source wires these through a dict of callables keyed by event
// name; that is re-architected here as a fixed Kind enum with a typed
// payload per variant, dispatched through per-kind subscriber slices.
// A subscriber that panics is recovered and logged — one bad subscriber
// must never affect the others or unwind the caller.
package events

import (
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// Kind enumerates the fixed set of events the coordinator emits.
type Kind int

const (
	DeviceConnected Kind = iota
	DeviceDisconnected
	WorkloadCompleted
	DeviceOverloaded
)

func (k Kind) String() string {
	switch k {
	case DeviceConnected:
		return "device_connected"
	case DeviceDisconnected:
		return "device_disconnected"
	case WorkloadCompleted:
		return "workload_completed"
	case DeviceOverloaded:
		return "device_overloaded"
	default:
		return "unknown"
	}
}

// WorkloadCompletedPayload is delivered on WorkloadCompleted.
type WorkloadCompletedPayload struct {
	Workload     model.Workload
	DeviceID     string
	WorkloadType string
}

// Handler receives an immutable snapshot of the event payload. The
// concrete type depends on the Kind it was registered under:
//   - DeviceConnected, DeviceDisconnected, DeviceOverloaded: model.Device
//   - WorkloadCompleted: WorkloadCompletedPayload
type Handler func(payload any)

// Bus is a per-owner fan-out table. It holds no back-pointer to its
// owner; the owner installs handlers on it and calls Emit.
type Bus struct {
	log      *zap.Logger
	handlers map[Kind][]Handler
}

// NewBus constructs an empty event bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[Kind][]Handler),
	}
}

// Subscribe registers fn to be called whenever kind is emitted.
func (b *Bus) Subscribe(kind Kind, fn Handler) {
	b.handlers[kind] = append(b.handlers[kind], fn)
}

// Emit dispatches payload to every subscriber of kind, synchronously and
// in registration order. Each subscriber is isolated behind a recover so
// a panicking handler cannot prevent the others from running or crash
// the emitting goroutine.
func (b *Bus) Emit(kind Kind, payload any) {
	for _, fn := range b.handlers[kind] {
		b.dispatch(kind, fn, payload)
	}
}

func (b *Bus) dispatch(kind Kind, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked",
				zap.String("event", kind.String()),
				zap.Any("recovered", r),
			)
		}
	}()
	fn(payload)
}
