package opcn3

import (
	"fmt"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// Config captures what is needed to open a session with the sensor.
type Config struct {
	Name        string        `yaml:"name"`
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	BootDelay   time.Duration `yaml:"boot_delay"`
	UseBinData  *bool         `yaml:"use_bin_data"`
	Simulate    bool          `yaml:"simulate"`

	// Filled from the retry policy, not from the device section.
	MaxFrameRetries int `yaml:"-"`
	MaxIORetries    int `yaml:"-"`
}

var supportedBaudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "OPC-N3"
	}
	if c.Port == "" {
		c.Port = "/dev/ttyACM0"
	}
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.BootDelay < 0 {
		c.BootDelay = 0
	}
	if c.UseBinData == nil {
		on := true
		c.UseBinData = &on
	}
	if c.MaxFrameRetries <= 0 {
		c.MaxFrameRetries = 3
	}
	if c.MaxIORetries <= 0 {
		c.MaxIORetries = 3
	}
}

func (c *Config) Validate() error {
	if c.Port == "" && !c.Simulate {
		return fmt.Errorf("%w: device port is required", domain.ErrConfiguration)
	}
	if !supportedBaudRates[c.BaudRate] {
		return fmt.Errorf("%w: unsupported baud rate %d", domain.ErrConfiguration, c.BaudRate)
	}
	return nil
}

// BinData reports whether histogram bins should be kept.
func (c *Config) BinData() bool {
	return c.UseBinData == nil || *c.UseBinData
}
