package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
	"github.com/haroune-bellatreche/fog-compute/internal/transport"
)

func TestCloudHTTPClientPushAggregationResult(t *testing.T) {
	var gotRound int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRound = int(body["round"].(float64))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := transport.NewCloudHTTPClient(srv.URL, time.Second, time.Second)
	err := client.PushAggregationResult(context.Background(), model.AggregationResult{Round: 7, FogNodeID: "fog-1"})
	require.NoError(t, err)
	assert.Equal(t, 7, gotRound)
}

func TestCloudHTTPClientFetchGlobalModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/global/latest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": "round-3",
			"weights": json.RawMessage(`{"w":[1,2,3]}`),
		})
	}))
	defer srv.Close()

	client := transport.NewCloudHTTPClient(srv.URL, time.Second, time.Second)
	body, version, err := client.FetchGlobalModel(context.Background(), "global")
	require.NoError(t, err)
	assert.Equal(t, "round-3", version)
	assert.JSONEq(t, `{"w":[1,2,3]}`, string(body))
}

func TestCloudHTTPClientFetchGlobalModelNotFoundIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := transport.NewCloudHTTPClient(srv.URL, time.Second, 2*time.Second)
	_, _, err := client.FetchGlobalModel(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCloudHTTPClientRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := transport.NewCloudHTTPClient(srv.URL, time.Second, 5*time.Second)
	err := client.PushAggregationResult(context.Background(), model.AggregationResult{Round: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}
