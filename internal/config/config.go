// Package config loads and validates the YAML configuration shared by every
// lbcored component, following the search-path and defaulting rules of the
// health-check proxy and VRRP/IPVS bootstrap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/lbcore/internal/logging"
)

// Name is used to derive the default search-path candidates
// (/etc/<name>/config.yaml, etc).
const Name = "lbcore"

// Config is the top-level configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Batching  BatchingConfig  `yaml:"batching"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Manager   ManagerConfig   `yaml:"manager"`
	Advanced  AdvancedConfig  `yaml:"advanced"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the health-check proxy endpoint.
type ServerConfig struct {
	ProxySocket string `yaml:"proxy_socket"`
}

// BatchingConfig configures the notifier's flush triggers.
type BatchingConfig struct {
	Delay   time.Duration `yaml:"delay"`
	MaxSize int           `yaml:"max_size"`
}

// ChannelsConfig sizes the bounded queues between components.
type ChannelsConfig struct {
	Notification int `yaml:"notification"`
	ConfigUpdate int `yaml:"config_update"`
	ProxyMessage int `yaml:"proxy_message"`
}

// ManagerConfig configures the reconciliation poller.
type ManagerConfig struct {
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// AdvancedConfig carries knobs reserved for future use; nothing in this
// core currently reads them, matching the original implementation's own
// "reserved for future" scope.
type AdvancedConfig struct {
	MaxFailures    int           `yaml:"max_failures"`
	NotifyInterval time.Duration `yaml:"notify_interval"`
	FetchInterval  time.Duration `yaml:"fetch_interval"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// MetricsConfig is carried for forward compatibility; this core does not
// currently expose a metrics endpoint (see DESIGN.md).
type MetricsConfig struct {
	Enabled          bool      `yaml:"enabled"`
	ListenAddr       string    `yaml:"listen_addr"`
	HistogramBuckets []float64 `yaml:"histogram_buckets"`
}

// TelemetryConfig is carried for forward compatibility; this core does not
// currently emit OTLP traces (see DESIGN.md).
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	UseHTTP      bool    `yaml:"use_http"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns the configuration used when no config file is found.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ProxySocket: fmt.Sprintf("/var/run/%s/healthcheck-proxy.sock", Name),
		},
		Batching: BatchingConfig{
			Delay:   100 * time.Millisecond,
			MaxSize: 100,
		},
		Channels: ChannelsConfig{
			Notification: 1000,
			ConfigUpdate: 10,
			ProxyMessage: 10,
		},
		Manager: ManagerConfig{
			MonitorInterval: time.Second,
		},
		Logging: *logging.DefaultConfig(),
	}
}

// SearchPaths returns the config file candidates, in priority order:
// /etc/<name>/config.yaml, $HOME/.config/<name>/config.yaml, ./config.yaml.
func SearchPaths() []string {
	paths := []string{filepath.Join("/etc", Name, "config.yaml")}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", Name, "config.yaml"))
	}

	paths = append(paths, "./config.yaml")
	return paths
}

// Load loads the configuration from the first existing file among candidates
// (SearchPaths() if candidates is empty), falling back to Default() if none
// exist. A present-but-malformed file is a hard error.
func Load(candidates ...string) (*Config, error) {
	if len(candidates) == 0 {
		candidates = SearchPaths()
	}

	for _, path := range candidates {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to open config %q: %w", path, err)
		}

		cfg := Default()
		decodeErr := yaml.NewDecoder(f).Decode(cfg)
		f.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode config %q: %w", path, decodeErr)
		}

		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return Default(), nil
}

// LoadFile loads and validates the configuration from exactly path, without
// consulting the search path. Used when the caller passes --config.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %q: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidationError reports a config value outside its documented range.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Validate checks every range constraint from spec.md §6.
func (c *Config) Validate() error {
	socket := c.Server.ProxySocket
	if !filepath.IsAbs(socket) && !strings.HasPrefix(socket, "./") {
		return &ValidationError{Field: "server.proxy_socket", Msg: "must be absolute or begin with './'"}
	}

	if c.Batching.Delay < time.Millisecond || c.Batching.Delay > 10*time.Second {
		return &ValidationError{Field: "batching.delay", Msg: "must be between 1ms and 10s"}
	}
	if c.Batching.MaxSize < 1 || c.Batching.MaxSize > 10000 {
		return &ValidationError{Field: "batching.max_size", Msg: "must be between 1 and 10000"}
	}

	if c.Channels.Notification < 10 || c.Channels.Notification > 100000 {
		return &ValidationError{Field: "channels.notification", Msg: "must be between 10 and 100000"}
	}
	if c.Channels.ConfigUpdate < 1 || c.Channels.ConfigUpdate > 1000 {
		return &ValidationError{Field: "channels.config_update", Msg: "must be between 1 and 1000"}
	}
	if c.Channels.ProxyMessage < 1 || c.Channels.ProxyMessage > 1000 {
		return &ValidationError{Field: "channels.proxy_message", Msg: "must be between 1 and 1000"}
	}

	if c.Manager.MonitorInterval < 10*time.Millisecond || c.Manager.MonitorInterval > 60*time.Second {
		return &ValidationError{Field: "manager.monitor_interval", Msg: "must be between 10ms and 60s"}
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return &ValidationError{Field: "telemetry.sampling_rate", Msg: "must be between 0 and 1"}
	}

	return nil
}
