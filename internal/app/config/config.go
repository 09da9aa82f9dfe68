package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/observability"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/storage"
	"github.com/CaderIdris/GCARE-OPCN3/internal/app/schedule"
	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

// MetricsOff disables the metrics HTTP server.
const MetricsOff = "off"

type Config struct {
	Device   opcn3.Config            `yaml:"device"`
	Schedule ScheduleConfig          `yaml:"schedule"`
	Storage  storage.Roots           `yaml:"storage"`
	Policy   ports.Policy            `yaml:"policy"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Mirror   MirrorConfig            `yaml:"mirror"`
	Logging  observability.LogConfig `yaml:"logging"`
}

type ScheduleConfig struct {
	Interval string `yaml:"interval"`

	// Parsed from Interval by Load.
	Every time.Duration `yaml:"-"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Enabled is false when the address is "off".
func (m MetricsConfig) Enabled() bool {
	return !strings.EqualFold(m.Addr, MetricsOff)
}

type MirrorConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	Table      string `yaml:"table"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfiguration, path, err)
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.Schedule.Every, _ = schedule.ParseInterval(cfg.Schedule.Interval)
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxFrameRetries <= 0 {
		c.Policy.MaxFrameRetries = 3
	}
	if c.Policy.MaxIORetries <= 0 {
		c.Policy.MaxIORetries = 3
	}
	if c.Policy.MaxPersistFailures <= 0 {
		c.Policy.MaxPersistFailures = 3
	}
	if c.Policy.BackoffInitial <= 0 {
		c.Policy.BackoffInitial = time.Second
	}
	if c.Policy.BackoffMax <= 0 {
		c.Policy.BackoffMax = 5 * time.Minute
	}
	if c.Schedule.Interval == "" {
		c.Schedule.Interval = "1m"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Mirror.Table == "" {
		c.Mirror.Table = "samples"
	}

	user := os.Getenv("USER")
	home, _ := os.UserHomeDir()
	if c.Storage.Primary == "" {
		c.Storage.Primary = filepath.Join("/media", user)
	}
	if c.Storage.Secondary == "" {
		c.Storage.Secondary = "/mnt"
	}
	if c.Storage.LogSubdir == "" {
		c.Storage.LogSubdir = "OPC-N3"
	}
	if c.Storage.Fallback == "" {
		c.Storage.Fallback = filepath.Join(home, "Documents", c.Storage.LogSubdir)
	}

	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}

	// A negative boot_delay turns the wait off.
	if c.Device.BootDelay == 0 {
		c.Device.BootDelay = 2 * time.Second
	}
	c.Device.MaxFrameRetries = c.Policy.MaxFrameRetries
	c.Device.MaxIORetries = c.Policy.MaxIORetries
	c.Device.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	every, err := schedule.ParseInterval(c.Schedule.Interval)
	if err != nil {
		return fmt.Errorf("schedule config: %w", err)
	}
	c.Schedule.Every = every

	if c.Storage.Fallback == "" {
		return fmt.Errorf("%w: storage.fallback_dir is required", domain.ErrConfiguration)
	}
	if c.Policy.BackoffMax < c.Policy.BackoffInitial {
		return fmt.Errorf("%w: policy.backoff_max %s is below backoff_initial %s",
			domain.ErrConfiguration, c.Policy.BackoffMax, c.Policy.BackoffInitial)
	}
	return nil
}
