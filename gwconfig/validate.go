package gwconfig

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate performs field-by-field validation of the configuration.
func (c *Config) Validate() error {
	if err := c.validateApp(); err != nil {
		return fmt.Errorf("app config: %w", err)
	}
	if err := c.validateGateway(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.validateEventBus(); err != nil {
		return fmt.Errorf("event_bus config: %w", err)
	}
	return nil
}

func (c *Config) validateApp() error {
	if c.App.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.HostDir == "" {
		return fmt.Errorf("host_dir is required")
	}
	if c.Gateway.AdvertisePort <= 0 || c.Gateway.AdvertisePort > 65535 {
		return fmt.Errorf("advertise_port must be between 1 and 65535, got: %d", c.Gateway.AdvertisePort)
	}
	if c.Gateway.ConnectionServerPort <= 0 || c.Gateway.ConnectionServerPort > 65535 {
		return fmt.Errorf("connection_server_port must be between 1 and 65535, got: %d", c.Gateway.ConnectionServerPort)
	}
	if c.Gateway.AdvertisePort == c.Gateway.ConnectionServerPort {
		return fmt.Errorf("advertise_port and connection_server_port must differ, both %d", c.Gateway.AdvertisePort)
	}
	if c.Gateway.DeviceScanInterval <= 0 {
		return fmt.Errorf("device_scan_interval must be positive, got: %g", c.Gateway.DeviceScanInterval)
	}
	if c.Gateway.MaxAgeSeconds <= 0 {
		return fmt.Errorf("max_age_seconds must be positive, got: %g", c.Gateway.MaxAgeSeconds)
	}
	if c.Gateway.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Directory != "" {
		if c.Logging.MaxSizeMB <= 0 {
			return fmt.Errorf("max_size_mb must be positive when directory is set, got: %d", c.Logging.MaxSizeMB)
		}
		if c.Logging.MaxBackups < 0 {
			return fmt.Errorf("max_backups must be non-negative, got: %d", c.Logging.MaxBackups)
		}
	}
	return nil
}

// validateEventBus is a no-op when URL is blank, since a blank URL
// disables telemetry publishing entirely.
func (c *Config) validateEventBus() error {
	if c.EventBus.URL == "" {
		return nil
	}
	if !strings.HasPrefix(c.EventBus.URL, "nats://") {
		return fmt.Errorf("url must start with nats://, got: %s", c.EventBus.URL)
	}
	if c.EventBus.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required when url is set")
	}
	return nil
}
