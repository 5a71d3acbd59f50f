// Command fognode runs one fog computing node: Edge Coordinator,
// Regional Aggregator, and Model Cache, wired together by the
// orchestrator and exposed over a peer HTTP server.
//
// Grounded on the teacher's main() (env-driven startup, graceful
// shutdown via signal.Notify + srv.Shutdown(ctx) with a timeout),
// generalized into a spf13/cobra CLI reading a viper-backed YAML
// config document instead of three environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/config"
	"github.com/haroune-bellatreche/fog-compute/internal/logging"
	"github.com/haroune-bellatreche/fog-compute/internal/metrics"
	"github.com/haroune-bellatreche/fog-compute/internal/orchestrator"
	"github.com/haroune-bellatreche/fog-compute/internal/transport"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "fognode",
		Short: "Run a fog computing node for federated learning",
	}

	var configPath string
	var devLogging bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fog node and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, devLogging)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config document")
	serveCmd.Flags().BoolVar(&devLogging, "dev", false, "use human-readable development logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the fognode version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string, devLogging bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(devLogging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	registry := metrics.New(prometheus.DefaultRegisterer)

	node := orchestrator.New(log, orchestrator.Config{
		FogNodeID:           cfg.FogNodeID(),
		CacheMaxSizeBytes:   cfg.CacheMaxSizeBytes(),
		CachePersistPath:    cfg.Caching.PersistPath,
		AggregationStrategy: cfg.Strategy(),
		MinClients:          cfg.Aggregation.MinClients,
		MaxWaitTime:         cfg.MaxWaitTime(),
		MaxEdgeDevices:      cfg.EdgeInterface.MaxEdgeClients,
		HealthCheckInterval: cfg.HealthCheckInterval(),
		DeviceTimeout:       cfg.DeviceTimeout(),
		CloudTransport:      cloudTransport(cfg),
		MetricsRegistry:     registry,
	})

	peer := transport.NewPeerHTTPServer(log, cfg.FogNodeID(), cfg.Transport.PeerListenAddr, node)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := peer.Start(ctx); err != nil {
		return fmt.Errorf("start peer server: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start fog node: %w", err)
	}

	log.Info("fog node running",
		zap.String("fog_node_id", cfg.FogNodeID()),
		zap.String("peer_listen_addr", cfg.Transport.PeerListenAddr),
		zap.String("version", version),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down fog node")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := peer.Stop(shutdownCtx); err != nil {
		log.Warn("peer server shutdown error", zap.Error(err))
	}
	if err := node.Stop(); err != nil {
		log.Warn("fog node shutdown error", zap.Error(err))
	}
	return nil
}

func cloudTransport(cfg config.Config) transport.CloudTransport {
	if cfg.CloudInterface.ServerURL == "" {
		return nil
	}
	return transport.NewCloudHTTPClient(cfg.CloudInterface.ServerURL, 10*time.Second, 0)
}
