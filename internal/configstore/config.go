// Package configstore loads the relay's YAML configuration and republishes
// it as an immutable snapshot, re-checking the file on a throttle for the
// life of the process.
package configstore

import (
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// reloadInterval is how often MaybeReload will actually touch the
// filesystem; calls inside the window are free reads of the cached
// snapshot, a single file read per window no matter how many goroutines
// call in.
const reloadInterval = 30 * time.Second

// EndpointConfig is one entry under rpc_endpoints.primary/secondary.
type EndpointConfig struct {
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
	MaxTPS int    `yaml:"max_tps"`
}

// RPCEndpointsConfig is the tiered endpoint list.
type RPCEndpointsConfig struct {
	Primary   []EndpointConfig `yaml:"primary"`
	Secondary []EndpointConfig `yaml:"secondary"`
}

// RelayConfig is the relay.* section: listener address and tuning knobs
// for the monitor and selector.
type RelayConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	MonitorInterval    int    `yaml:"monitor_interval"`
	LatencyThresholdMS *int   `yaml:"latency_threshold_ms"`
}

// HealthMonitorConfig is the health_monitor.* section.
type HealthMonitorConfig struct {
	MaxBlocksBehind int            `yaml:"max_blocks_behind"`
	ColumnWidths    map[string]int `yaml:"column_widths"`
}

// Config is the full, immutable configuration snapshot.
type Config struct {
	RPCEndpoints  RPCEndpointsConfig  `yaml:"rpc_endpoints"`
	Relay         RelayConfig         `yaml:"relay"`
	CacheTTL      map[string]int      `yaml:"cache_ttl"`
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

func applyDefaults(cfg *Config) {
	for i := range cfg.RPCEndpoints.Primary {
		if cfg.RPCEndpoints.Primary[i].Weight < 1 {
			cfg.RPCEndpoints.Primary[i].Weight = 1
		}
	}
	for i := range cfg.RPCEndpoints.Secondary {
		if cfg.RPCEndpoints.Secondary[i].Weight < 1 {
			cfg.RPCEndpoints.Secondary[i].Weight = 1
		}
	}
	if cfg.Relay.MonitorInterval <= 0 {
		cfg.Relay.MonitorInterval = 5
	}
	if cfg.Relay.Host == "" {
		cfg.Relay.Host = "0.0.0.0"
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 5000
	}
	if cfg.HealthMonitor.MaxBlocksBehind <= 0 {
		cfg.HealthMonitor.MaxBlocksBehind = 6
	}
}

// ReloadEvent describes a published reload — which top-level sections
// actually changed, for logging.
type ReloadEvent struct {
	Changed []string
}

// Store holds the active Config behind an atomic pointer and throttles
// reload-from-disk checks to reloadInterval.
type Store struct {
	path   string
	logger *zap.Logger

	snapshot atomic.Pointer[Config]
	version  atomic.Uint64

	mu        sync.Mutex
	lastCheck time.Time
}

// Load reads and parses path for the first time; unlike MaybeReload, a
// failure here is fatal since there is no previous snapshot to fall back
// to.
func Load(path string, logger *zap.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	s := &Store{path: path, logger: logger, lastCheck: time.Now()}
	s.snapshot.Store(&cfg)
	s.version.Store(1)
	return s, nil
}

// Current returns the active snapshot; it never touches the filesystem.
func (s *Store) Current() *Config {
	return s.snapshot.Load()
}

// Version returns a monotonically increasing counter bumped on every
// published reload, letting callers cheaply notice a change without
// diffing Config values themselves.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// MaybeReload re-reads the config file if reloadInterval has elapsed
// since the last check. A read or parse failure is swallowed — the
// previous snapshot is kept — and reported as a nil event, nil error, so
// a transient edit never destabilizes the service. A non-nil event is
// returned only when the parsed config is structurally different from
// the current one.
func (s *Store) MaybeReload(now time.Time) (*ReloadEvent, error) {
	s.mu.Lock()
	if now.Sub(s.lastCheck) < reloadInterval {
		s.mu.Unlock()
		return nil, nil
	}
	s.lastCheck = now
	s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("config reload: read failed, keeping previous snapshot", zap.Error(err), zap.String("path", s.path))
		return nil, nil
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		s.logger.Warn("config reload: parse failed, keeping previous snapshot", zap.Error(err), zap.String("path", s.path))
		return nil, nil
	}
	applyDefaults(&parsed)

	current := s.Current()
	if reflect.DeepEqual(current, &parsed) {
		return nil, nil
	}

	changed := diffSections(current, &parsed)
	s.snapshot.Store(&parsed)
	s.version.Add(1)
	s.logger.Info("config reloaded", zap.Strings("changed", changed))
	return &ReloadEvent{Changed: changed}, nil
}

func diffSections(old, new *Config) []string {
	var changed []string
	if !reflect.DeepEqual(old.RPCEndpoints, new.RPCEndpoints) {
		changed = append(changed, "rpc_endpoints")
	}
	if !reflect.DeepEqual(old.Relay, new.Relay) {
		changed = append(changed, "relay")
	}
	if !reflect.DeepEqual(old.CacheTTL, new.CacheTTL) {
		changed = append(changed, "cache_ttl")
	}
	if !reflect.DeepEqual(old.HealthMonitor, new.HealthMonitor) {
		changed = append(changed, "health_monitor")
	}
	return changed
}
