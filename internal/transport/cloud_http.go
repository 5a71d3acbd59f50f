package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// CloudHTTPClient is the default CloudTransport. Grounded on
// original_source/communication/cloud_interface.py's use_http branch
// (an aiohttp client posting aggregation results and polling for the
// global model), translated to net/http with an exponential backoff
// retry on transport failures in place of the source's fixed
// sleep-and-retry loop.
type CloudHTTPClient struct {
	client  *http.Client
	baseURL string
	retry   func() backoff.BackOff
}

// NewCloudHTTPClient constructs a CloudHTTPClient targeting baseURL
// (the regional/global aggregation service). maxRetryElapsed bounds the
// total time spent retrying a single call; zero disables the bound
// (retries forever under ctx's own deadline).
func NewCloudHTTPClient(baseURL string, timeout, maxRetryElapsed time.Duration) *CloudHTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CloudHTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = maxRetryElapsed // zero: no elapsed-time bound
			return b
		},
	}
}

// PushAggregationResult posts a completed round upstream, retrying on
// model.ErrTransportUnavailable with exponential backoff.
func (c *CloudHTTPClient) PushAggregationResult(ctx context.Context, result model.AggregationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal aggregation result: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/aggregations", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrTransportUnavailable, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: cloud returned %d", model.ErrTransportUnavailable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("cloud rejected aggregation result: status %d", resp.StatusCode))
		}
		return nil
	}

	return backoff.Retry(op, backoff.WithContext(c.retry(), ctx))
}

// FetchGlobalModel retrieves the current global model for modelID,
// retrying transport failures the same way PushAggregationResult does.
func (c *CloudHTTPClient) FetchGlobalModel(ctx context.Context, modelID string) ([]byte, string, error) {
	var body []byte
	var version string

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/"+modelID+"/latest", nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrTransportUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("global model %s not found", modelID))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: cloud returned %d", model.ErrTransportUnavailable, resp.StatusCode)
		}

		var envelope struct {
			Version string          `json:"version"`
			Weights json.RawMessage `json:"weights"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return backoff.Permanent(fmt.Errorf("decode global model response: %w", err))
		}
		body = envelope.Weights
		version = envelope.Version
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.retry(), ctx)); err != nil {
		return nil, "", err
	}
	return body, version, nil
}
