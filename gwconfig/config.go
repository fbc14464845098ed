// Package gwconfig defines the gateway's configuration value shape:
// external §6 keys plus the ambient logging/event-bus/metrics plumbing
// a running process needs. The package owns the shape, defaults and
// validation, and Load reads the struct from a JSON file; it does not
// read configuration values from the environment (only ConfigRoot
// consults EnvConfigRoot).
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// EnvConfigRoot is the environment variable that overrides the config
// directory root, named in the external interface contract.
const EnvConfigRoot = "IOT49"

// Config is the root configuration structure.
type Config struct {
	App      AppConfig      `json:"app"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging"`
	EventBus EventBusConfig `json:"event_bus"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// AppConfig carries the process-level identity block.
type AppConfig struct {
	InstanceID string `json:"instance_id"`
	Label      string `json:"label"` // human-readable label, e.g. site name
}

// GatewayConfig carries every key named in the external interface
// contract: where host files live, which ports to serve and advertise
// on, how often to scan, and the shared auth secret.
type GatewayConfig struct {
	HostDir              string  `json:"host_dir"`
	McuDir               string  `json:"mcu_dir"`
	AdvertisePort        int     `json:"advertise_port"`
	ConnectionServerPort int     `json:"connection_server_port"`
	DeviceScanInterval   float64 `json:"device_scan_interval"`
	MaxAgeSeconds        float64 `json:"max_age_seconds"`
	Password             string  `json:"password"`
}

// LoggingConfig selects between a plain stdout text handler and a
// rotating file sink.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Directory  string `json:"directory"`   // empty = log to stdout only
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// EventBusConfig configures the ambient NATS-backed telemetry publisher.
// A blank URL disables publishing entirely.
type EventBusConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr"` // empty = metrics server disabled
}

// Default returns a Config with every optional field set to its
// documented default.
func Default() *Config {
	return &Config{
		App: AppConfig{InstanceID: "default"},
		Gateway: GatewayConfig{
			AdvertisePort:        50003,
			ConnectionServerPort: 50001,
			DeviceScanInterval:   1.0,
			MaxAgeSeconds:        5.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 10,
		},
		EventBus: EventBusConfig{
			SubjectPrefix: "iot",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// Load reads and parses a JSON config file, filling in defaults for any
// field left zero, then validates the result. A failure here is the one
// place the taxonomy names an error that is meant to abort the process.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	d := Default()
	if c.App.InstanceID == "" {
		c.App.InstanceID = d.App.InstanceID
	}
	if c.Gateway.AdvertisePort == 0 {
		c.Gateway.AdvertisePort = d.Gateway.AdvertisePort
	}
	if c.Gateway.ConnectionServerPort == 0 {
		c.Gateway.ConnectionServerPort = d.Gateway.ConnectionServerPort
	}
	if c.Gateway.DeviceScanInterval == 0 {
		c.Gateway.DeviceScanInterval = d.Gateway.DeviceScanInterval
	}
	if c.Gateway.MaxAgeSeconds == 0 {
		c.Gateway.MaxAgeSeconds = d.Gateway.MaxAgeSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = d.Logging.MaxBackups
	}
	if c.EventBus.SubjectPrefix == "" {
		c.EventBus.SubjectPrefix = d.EventBus.SubjectPrefix
	}
}

// ConfigRoot returns the configuration directory root, honoring
// EnvConfigRoot when set.
func ConfigRoot(fallback string) string {
	if root := os.Getenv(EnvConfigRoot); root != "" {
		return root
	}
	return fallback
}
