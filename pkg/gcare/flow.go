package gcare

import (
	"context"
	"errors"
	"fmt"

	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
)

// Flow assembles a Runtime in three steps. Conf loads the settings,
// StreamIN picks where readings come from and StreamOUT picks where they
// are written. Choices are resolved against the configuration only when
// the Runtime is built, so edits made through Config still apply.
type Flow struct {
	cfg     *Config
	base    []Option
	sensor  []StreamInOption
	outputs []StreamOutOption
}

// FlowOption adjusts a Flow while it is created.
type FlowOption func(*Flow)

// StreamInOption selects the sensor side: the dialer, the clock the
// schedule runs on, or where the agent logs.
type StreamInOption func(*Config) Option

// StreamOutOption selects the storage side. Mirrors accumulate; every
// other choice replaces the previous one.
type StreamOutOption func(*Config, *outputPlan)

type outputPlan struct {
	opts    []Option
	mirrors []Sink
}

// Conf reads the YAML file at path and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from settings already in memory.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// WithFlowOptions passes Runtime options straight through.
func WithFlowOptions(opts ...Option) FlowOption {
	return func(f *Flow) { f.base = append(f.base, opts...) }
}

func (f *Flow) Config() *Config { return f.cfg }

// Options adds Runtime options that are neither sensor nor storage choices,
// such as the filesystem.
func (f *Flow) Options(opts ...Option) *Flow {
	f.base = append(f.base, opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	f.sensor = append(f.sensor, opts...)
	return f
}

// StreamOUT records the storage choices and builds the Runtime.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil || f.cfg == nil {
		return nil, fmt.Errorf("%w: flow has no configuration", ErrConfiguration)
	}
	f.outputs = append(f.outputs, opts...)
	return NewRuntime(f.cfg, f.resolve()...)
}

// Run builds the Runtime and measures until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func (f *Flow) resolve() []Option {
	opts := append([]Option(nil), f.base...)
	for _, in := range f.sensor {
		if in != nil {
			opts = append(opts, in(f.cfg))
		}
	}

	var plan outputPlan
	for _, out := range f.outputs {
		if out != nil {
			out(f.cfg, &plan)
		}
	}
	opts = append(opts, plan.opts...)
	switch len(plan.mirrors) {
	case 0:
	case 1:
		opts = append(opts, WithMirror(plan.mirrors[0]))
	default:
		opts = append(opts, WithMirror(teeSink(plan.mirrors)))
	}
	return opts
}

// StreamInDialer reads from a caller-supplied device.
func StreamInDialer(d Dialer) StreamInOption {
	return func(*Config) Option {
		if d == nil {
			return nil
		}
		return WithDialer(d)
	}
}

// StreamInSimulator reads from the in-process OPC-N3 simulator using the
// device section of the configuration.
func StreamInSimulator(opts SimulatorOptions) StreamInOption {
	return func(cfg *Config) Option {
		return WithDialer(&opcn3.Dialer{Config: cfg.Device, Open: opcn3.SimulatorOpener(opts)})
	}
}

func StreamInClock(c Clock) StreamInOption {
	return func(*Config) Option {
		if c == nil {
			return nil
		}
		return WithClock(c)
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(*Config) Option {
		if obs == nil {
			return nil
		}
		return WithObservability(obs)
	}
}

// StreamOutSink writes samples to s instead of the daily CSV files.
func StreamOutSink(s Sink) StreamOutOption {
	return func(_ *Config, p *outputPlan) {
		if s != nil {
			p.opts = append(p.opts, WithSink(s))
		}
	}
}

// StreamOutMirror copies every written sample to s. It replaces the SQLite
// mirror and may be given more than once.
func StreamOutMirror(s Sink) StreamOutOption {
	return func(_ *Config, p *outputPlan) {
		if s != nil {
			p.mirrors = append(p.mirrors, s)
		}
	}
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return func(_ *Config, p *outputPlan) {
		if obs != nil {
			p.opts = append(p.opts, WithObservability(obs))
		}
	}
}

// StreamOutCallback hands a copy of every written sample to fn.
func StreamOutCallback(name string, fn SampleFunc) StreamOutOption {
	return StreamOutMirror(NewCallbackSink(name, fn))
}

// teeSink feeds several mirrors; one failing does not stop the rest.
type teeSink []Sink

func (t teeSink) AppendSample(s *Sample, target StorageTarget) error {
	var errs []error
	for _, m := range t {
		if err := m.AppendSample(s, target); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (t teeSink) Name() string {
	name := ""
	for i, m := range t {
		if i > 0 {
			name += "+"
		}
		name += m.Name()
	}
	return name
}
