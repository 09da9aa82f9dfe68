package gcare

import (
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/observability"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/storage"
	"github.com/CaderIdris/GCARE-OPCN3/internal/app/config"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy holds retry counts and reconnect backoff.
	Policy = ports.Policy
	// DeviceConfig describes the serial link to the sensor.
	DeviceConfig = opcn3.Config
	// ScheduleConfig sets the measurement interval.
	ScheduleConfig = config.ScheduleConfig
	// StorageRoots lists where daily logs may be written.
	StorageRoots = storage.Roots
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// MirrorConfig configures the optional SQLite copy of every sample.
	MirrorConfig = config.MirrorConfig
	// LogConfig configures the agent's rotating log file.
	LogConfig = observability.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig reads a YAML document already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
