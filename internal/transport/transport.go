// Package transport defines the boundary interfaces the fog orchestrator
// uses to talk outward: to edge devices, to the cloud tier above it, and
// to peer fog nodes inspecting this one's state.
//
// Grounded on original_source/communication/edge_interface.py and
// cloud_interface.py for the interface shapes, and on the teacher's
// main.go HTTP surface for the default implementations.
package transport

import (
	"context"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// EdgeTransport pushes data down to a registered edge device. The
// source's MQTT implementation (paho) and a plain HTTP push both
// satisfy this; only HTTP is implemented here.
type EdgeTransport interface {
	SendModel(ctx context.Context, deviceID string, modelPayload []byte, version string) error
	SendWorkload(ctx context.Context, deviceID string, workload model.Workload) error
}

// CloudTransport forwards aggregation results upstream and fetches
// global models on request. Implementations should translate
// connection failures into model.ErrTransportUnavailable so callers can
// apply a uniform retry policy.
type CloudTransport interface {
	PushAggregationResult(ctx context.Context, result model.AggregationResult) error
	FetchGlobalModel(ctx context.Context, modelID string) ([]byte, string, error)
}

// PeerTransport exposes this node's state to other fog nodes and to
// operational tooling (health checks, scrapers). It is a server, not a
// client, so it is started/stopped rather than called.
type PeerTransport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
