package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

type fakeStatus struct {
	status map[string]any
	devs   []model.Device
	aggs   []model.AggregationResult
}

func (f fakeStatus) Status() map[string]any                        { return f.status }
func (f fakeStatus) Devices() []model.Device                       { return f.devs }
func (f fakeStatus) RecentAggregations() []model.AggregationResult { return f.aggs }

func TestPeerRouterHealthStatusDevices(t *testing.T) {
	status := fakeStatus{
		status: map[string]any{"fog_node_id": "fog-1"},
		devs:   []model.Device{{ID: "d1", Status: model.DeviceOnline}},
		aggs:   []model.AggregationResult{{Round: 1, FogNodeID: "fog-1"}},
	}
	srv := NewPeerHTTPServer(zap.NewNop(), "fog-1", ":0", status)
	router := srv.router()

	t.Run("health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "fog-1", body["node"])
	})

	t.Run("status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("devices", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/peer/devices", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var devices []model.Device
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
		require.Len(t, devices, 1)
		assert.Equal(t, "d1", devices[0].ID)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/status", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
