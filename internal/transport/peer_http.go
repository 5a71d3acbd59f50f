package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// StatusProvider is the read-only slice of the orchestrator the peer
// server exposes. Implemented by *orchestrator.FogNode.
type StatusProvider interface {
	Status() map[string]any
	Devices() []model.Device
	RecentAggregations() []model.AggregationResult
}

// PeerHTTPServer is the default PeerTransport: a gorilla/mux server
// exposing this node's status, device roster, and recent aggregation
// history to peers and operational tooling, plus a Prometheus scrape
// endpoint.
//
// Grounded directly on the teacher's main.go HTTP surface: same router
// construction, same permissive CORS middleware closure, same
// /health+/status+/metrics handler set and srv.Shutdown(ctx) shutdown
// shape, repointed at fog-node status instead of task submission.
type PeerHTTPServer struct {
	log      *zap.Logger
	nodeID   string
	addr     string
	status   StatusProvider
	srv      *http.Server
}

// NewPeerHTTPServer constructs a PeerHTTPServer bound to addr (":8080"
// style), backed by status for its data.
func NewPeerHTTPServer(log *zap.Logger, nodeID, addr string, status StatusProvider) *PeerHTTPServer {
	return &PeerHTTPServer{log: log, nodeID: nodeID, addr: addr, status: status}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *PeerHTTPServer) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/health", p.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/status", p.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/peer/devices", p.handleDevices).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/peer/aggregations", p.handleAggregations).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet, http.MethodOptions)
	return r
}

func (p *PeerHTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy", "node": p.nodeID})
}

func (p *PeerHTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, p.status.Status())
}

func (p *PeerHTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, p.status.Devices())
}

func (p *PeerHTTPServer) handleAggregations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, p.status.RecentAggregations())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Start begins serving in the background. A bind failure returns
// immediately; later listener errors are logged rather than returned,
// matching the teacher's fire-and-forget ListenAndServe pattern.
func (p *PeerHTTPServer) Start(ctx context.Context) error {
	p.srv = &http.Server{
		Addr:    p.addr,
		Handler: p.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := p.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		p.log.Info("peer HTTP server listening", zap.String("addr", p.addr))
		return nil
	}
}

// Stop gracefully shuts down the HTTP server within ctx's deadline.
func (p *PeerHTTPServer) Stop(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}
