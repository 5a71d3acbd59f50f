package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// EdgeHTTPClient is the default EdgeTransport: a plain HTTP POST to a
// per-device base URL registered out of band (device registration
// carries no URL in this spec, so callers supply a resolver).
//
// Grounded on original_source/communication/edge_interface.py's
// publish-to-device pattern, translated from an MQTT topic
// ("fog/{device_id}/model") to an HTTP path on the device's own
// listener.
type EdgeHTTPClient struct {
	client   *http.Client
	resolve  func(deviceID string) (baseURL string, ok bool)
}

// NewEdgeHTTPClient constructs an EdgeHTTPClient. resolve maps a
// device ID to the base URL the device's own HTTP listener is reachable
// at; it is the caller's responsibility to populate this (typically
// from the device's registration payload).
func NewEdgeHTTPClient(resolve func(deviceID string) (string, bool), timeout time.Duration) *EdgeHTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EdgeHTTPClient{
		client:  &http.Client{Timeout: timeout},
		resolve: resolve,
	}
}

func (e *EdgeHTTPClient) post(ctx context.Context, deviceID, path string, body any) error {
	baseURL, ok := e.resolve(deviceID)
	if !ok {
		return fmt.Errorf("%w: no address known for device %s", model.ErrUnknownDevice, deviceID)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal edge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: device returned %d", model.ErrTransportUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("device rejected push: status %d", resp.StatusCode)
	}
	return nil
}

// SendModel pushes model weights and version metadata to a device.
func (e *EdgeHTTPClient) SendModel(ctx context.Context, deviceID string, modelPayload []byte, version string) error {
	return e.post(ctx, deviceID, "/fog/model", struct {
		Version string          `json:"version"`
		Weights json.RawMessage `json:"weights"`
	}{Version: version, Weights: modelPayload})
}

// SendWorkload pushes a workload assignment to its assigned device.
func (e *EdgeHTTPClient) SendWorkload(ctx context.Context, deviceID string, workload model.Workload) error {
	return e.post(ctx, deviceID, "/fog/workload", workload)
}
