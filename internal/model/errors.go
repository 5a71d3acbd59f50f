package model

import "errors"

// Sentinel errors surfaced by the core components. Callers compare with
// errors.Is; transports translate these into status codes and reason
// strings instead of unwinding goroutines.
var (
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrAlreadyRegistered   = errors.New("device already registered")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrUnknownWorkload     = errors.New("unknown workload")
	ErrTooLarge            = errors.New("entry too large for cache")
	ErrSerialization       = errors.New("failed to serialize entry")
	ErrHeterogeneousShapes = errors.New("aggregation aborted: heterogeneous parameter shapes")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrNoActiveRound       = errors.New("no active aggregation round")
	ErrNoSuitableDevice    = errors.New("no suitable device for workload")
	ErrModelNotFound       = errors.New("model not found in cache and no cloud transport configured")
	ErrAssignmentRateLimited = errors.New("workload assignment rate limit exceeded")
)

// RejectReason enumerates why add_edge_update refused an update. Kept as
// a string enum (rather than folding into the error taxonomy above)
// because the spec treats admission rejects as routine, per-update
// outcomes reported back over the edge transport, not exceptional errors.
type RejectReason string

const (
	RejectNoActiveRound      RejectReason = "no_active_round"
	RejectTimestampBeforeRound RejectReason = "timestamp_before_round"
	RejectBadWeights         RejectReason = "bad_weights"
	RejectNonPositiveSamples RejectReason = "non_positive_samples"
	RejectDuplicateClient    RejectReason = "duplicate_client"
)
