package ports

import "time"

type Policy struct {
	MaxFrameRetries    int `yaml:"max_frame_retries"`
	MaxIORetries       int `yaml:"max_io_retries"`
	MaxPersistFailures int `yaml:"max_persist_failures"`

	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}
