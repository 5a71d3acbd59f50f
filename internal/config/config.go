// Package config loads the fog node's YAML configuration document via
// viper into a typed Config using the same recognized keys spec.md
// section 6 names (fog_node.id/region, edge_interface.*,
// aggregation.*, caching.*, monitoring.*, cloud_interface.*), plus a
// small set of extension keys for behavior section 6 leaves
// implementation-defined (persisted cache dump path, peer listen
// address): see the field comments below for which keys are which.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// gigabyte converts caching.max_size_gb into a raw byte count, per
// spec.md section 6 ("caching.max_size_gb: cache byte cap (x1 073 741
// 824)").
const gigabyte = 1 << 30

// Config is the fully-resolved, typed configuration for one fog node
// process. Field/tag names mirror spec.md section 6's dotted key names
// exactly; nothing is renamed or restructured.
type Config struct {
	FogNode struct {
		ID     string `mapstructure:"id"`
		Region string `mapstructure:"region"`
	} `mapstructure:"fog_node"`

	EdgeInterface struct {
		MaxEdgeClients int    `mapstructure:"max_edge_clients"`
		MQTTBroker     string `mapstructure:"mqtt_broker"`
	} `mapstructure:"edge_interface"`

	Aggregation struct {
		Strategy    string `mapstructure:"strategy"`
		MinClients  int    `mapstructure:"min_clients"`
		MaxWaitTime int    `mapstructure:"max_wait_time"` // seconds
	} `mapstructure:"aggregation"`

	Caching struct {
		MaxSizeGB float64 `mapstructure:"max_size_gb"`
		TTLHours  float64 `mapstructure:"ttl_hours"`
		// PersistPath is an extension beyond section 6: the spec leaves
		// the cache dump file's location implementation-defined ("format
		// is implementation-defined; corrupt files must be ignored").
		PersistPath string `mapstructure:"persist_path"`
	} `mapstructure:"caching"`

	Monitoring struct {
		HealthCheckInterval int `mapstructure:"health_check_interval"` // seconds
		// DeviceTimeout is an extension beyond section 6: the spec names
		// the health check period but not the staleness threshold it
		// measures against, which this tree tracks as a separate value.
		DeviceTimeout int `mapstructure:"device_timeout"` // seconds
	} `mapstructure:"monitoring"`

	CloudInterface struct {
		ServerURL    string `mapstructure:"server_url"`
		SyncInterval int    `mapstructure:"sync_interval"` // seconds
	} `mapstructure:"cloud_interface"`

	// Transport holds the one extension section with no analogue in
	// section 6 at all: the spec describes peer transport as "out of
	// scope" ("Peer details are out of scope"), so the address this
	// tree's own peer HTTP server binds to has no documented key to
	// collide with.
	Transport struct {
		PeerListenAddr string `mapstructure:"peer_listen_addr"`
	} `mapstructure:"transport"`
}

// defaults mirrors spec.md's documented defaults for every option the
// config document may omit.
func defaults(v *viper.Viper) {
	v.SetDefault("fog_node.id", "fog-node-1")
	v.SetDefault("fog_node.region", "")
	v.SetDefault("edge_interface.max_edge_clients", 50)
	v.SetDefault("aggregation.strategy", string(model.StrategyFedAvg))
	v.SetDefault("aggregation.min_clients", 3)
	v.SetDefault("aggregation.max_wait_time", 120)
	v.SetDefault("caching.max_size_gb", 0.09765625) // 100MB (100/1024 GB)
	v.SetDefault("caching.ttl_hours", 24.0)
	v.SetDefault("monitoring.health_check_interval", 30)
	v.SetDefault("monitoring.device_timeout", 300)
	v.SetDefault("cloud_interface.sync_interval", 60)
	v.SetDefault("transport.peer_listen_addr", ":8080")
}

// Load reads path (a YAML document) via viper, falling back to the
// documented defaults for anything the document omits. An empty path
// loads defaults only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// FogNodeID returns the configured node identity, section 6's
// `fog_node.id`.
func (c Config) FogNodeID() string {
	return c.FogNode.ID
}

// CacheMaxSizeBytes converts `caching.max_size_gb` into the raw byte
// cap internal/cache.New expects.
func (c Config) CacheMaxSizeBytes() int64 {
	return int64(c.Caching.MaxSizeGB * gigabyte)
}

// CacheDefaultTTL converts `caching.ttl_hours` into a time.Duration.
func (c Config) CacheDefaultTTL() time.Duration {
	return time.Duration(c.Caching.TTLHours * float64(time.Hour))
}

// MaxWaitTime converts `aggregation.max_wait_time` (seconds) into a
// time.Duration.
func (c Config) MaxWaitTime() time.Duration {
	return time.Duration(c.Aggregation.MaxWaitTime) * time.Second
}

// HealthCheckInterval converts `monitoring.health_check_interval`
// (seconds) into a time.Duration.
func (c Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Monitoring.HealthCheckInterval) * time.Second
}

// DeviceTimeout converts `monitoring.device_timeout` (seconds) into a
// time.Duration.
func (c Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Monitoring.DeviceTimeout) * time.Second
}

// CloudSyncInterval converts `cloud_interface.sync_interval` (seconds)
// into a time.Duration.
func (c Config) CloudSyncInterval() time.Duration {
	return time.Duration(c.CloudInterface.SyncInterval) * time.Second
}

// Strategy resolves the configured aggregation strategy string into the
// model.Strategy enum, defaulting to FEDAVG for an unrecognized value.
func (c Config) Strategy() model.Strategy {
	switch model.Strategy(c.Aggregation.Strategy) {
	case model.StrategyFedAvg, model.StrategyFedProx, model.StrategyRegional, model.StrategyAdaptive:
		return model.Strategy(c.Aggregation.Strategy)
	default:
		return model.StrategyFedAvg
	}
}
