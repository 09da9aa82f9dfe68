package gcare

import (
	"github.com/spf13/afero"

	base "github.com/CaderIdris/GCARE-OPCN3/pkg/gcare"
)

// Re-exported errors for convenience.
var (
	ErrConfiguration     = base.ErrConfiguration
	ErrConnection        = base.ErrConnection
	ErrProtocol          = base.ErrProtocol
	ErrCorruptFrame      = base.ErrCorruptFrame
	ErrTimeout           = base.ErrTimeout
	ErrPersistence       = base.ErrPersistence
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/CaderIdris/GCARE-OPCN3 directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	DeviceConfig     = base.DeviceConfig
	ScheduleConfig   = base.ScheduleConfig
	StorageRoots     = base.StorageRoots
	MetricsConfig    = base.MetricsConfig
	MirrorConfig     = base.MirrorConfig
	LogConfig        = base.LogConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Runtime          = base.Runtime
	Option           = base.Option
	Sample           = base.Sample
	SampleFunc       = base.SampleFunc
	StorageTarget    = base.StorageTarget
	DeviceInfo       = base.DeviceInfo
	Device           = base.Device
	Dialer           = base.Dialer
	Sink             = base.Sink
	Observability    = base.Observability
	Field            = base.Field
	Clock            = base.Clock
	SimulatorOptions = base.SimulatorOptions
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...Option) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInDialer(d Dialer) StreamInOption {
	return base.StreamInDialer(d)
}

func StreamInSimulator(opts SimulatorOptions) StreamInOption {
	return base.StreamInSimulator(opts)
}

func StreamInClock(c Clock) StreamInOption {
	return base.StreamInClock(c)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutMirror(s Sink) StreamOutOption {
	return base.StreamOutMirror(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn SampleFunc) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithDialer(d Dialer) Option {
	return base.WithDialer(d)
}

func WithSink(s Sink) Option {
	return base.WithSink(s)
}

func WithMirror(s Sink) Option {
	return base.WithMirror(s)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithClock(c Clock) Option {
	return base.WithClock(c)
}

func WithFs(fs afero.Fs) Option {
	return base.WithFs(fs)
}

// Sink adapters.
func NewCallbackSink(name string, fn SampleFunc) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan Sample, func()) {
	return base.NewChannelSink(name, buffer)
}
