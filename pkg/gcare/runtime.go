package gcare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/csvlog"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/observability"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/sqlmirror"
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/storage"
	"github.com/CaderIdris/GCARE-OPCN3/internal/app/agent"
	"github.com/CaderIdris/GCARE-OPCN3/internal/app/schedule"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

const shutdownTimeout = 5 * time.Second

// Option customizes the dependencies used by Runtime.
type Option func(*runtimeOverrides)

type runtimeOverrides struct {
	dialer        Dialer
	sink          Sink
	mirror        Sink
	observability Observability
	clock         Clock
	fs            afero.Fs
}

// WithDialer replaces the serial-port dialer, e.g. with a simulator.
func WithDialer(d Dialer) Option {
	return func(o *runtimeOverrides) {
		o.dialer = d
	}
}

// WithSink replaces the daily CSV writer.
func WithSink(s Sink) Option {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithMirror sends a copy of every sample to s instead of the SQLite mirror.
func WithMirror(s Sink) Option {
	return func(o *runtimeOverrides) {
		o.mirror = s
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) Option {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithClock runs the schedule on a caller-provided clock.
func WithClock(c Clock) Option {
	return func(o *runtimeOverrides) {
		o.clock = c
	}
}

// WithFs resolves storage and writes logs on the given filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *runtimeOverrides) {
		o.fs = fs
	}
}

// Runtime wires the sensor, schedule, storage and metrics together.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	agent      *agent.Agent
	target     StorageTarget
	sink       Sink
	mirror     Sink
	closers    []io.Closer
	metricsSrv *http.Server
}

// NewRuntime bootstraps the default adapters (serial OPC-N3 dialer, daily
// CSV writer, optional SQLite mirror, Prometheus observability). Storage is
// resolved here, once.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg}

	obs := overrides.observability
	if obs == nil {
		logger, closer := observability.NewLogger(cfg.Logging)
		rt.closers = append(rt.closers, closer)
		obs = observability.NewPromObs(logger)
	}
	rt.obs = obs

	fs := overrides.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	rt.target = storage.Resolve(fs, cfg.Storage)

	rt.sink = overrides.sink
	if rt.sink == nil {
		rt.sink = csvlog.NewWriter(fs)
	}

	rt.mirror = overrides.mirror
	if rt.mirror == nil && cfg.Mirror.SQLitePath != "" {
		m, err := sqlmirror.Open(cfg.Mirror.SQLitePath, cfg.Mirror.Table)
		if err != nil {
			rt.closeAll()
			return nil, err
		}
		rt.mirror = m
		rt.closers = append(rt.closers, m)
	}

	dialer := overrides.dialer
	if dialer == nil {
		dialer = &opcn3.Dialer{Config: cfg.Device, Obs: obs}
	}

	every := cfg.Schedule.Every
	if every == 0 {
		var err error
		if every, err = schedule.ParseInterval(cfg.Schedule.Interval); err != nil {
			rt.closeAll()
			return nil, err
		}
	}

	a, err := agent.New(agent.Config{
		Dialer:          dialer,
		Sink:            rt.sink,
		Mirror:          rt.mirror,
		Target:          rt.target,
		Interval:        every,
		Policy:          cfg.Policy,
		Clock:           overrides.clock,
		Obs:             obs,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		rt.closeAll()
		return nil, err
	}
	rt.agent = a
	return rt, nil
}

// Target reports where daily logs are written.
func (r *Runtime) Target() StorageTarget {
	return r.target
}

// Run starts the metrics server and the measurement loop, and blocks until
// ctx is cancelled or the loop stops on a fatal error.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.startMetrics()

	runErr := r.agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

// Shutdown stops the metrics server and closes the mirror and log file.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
	}
	if err := r.closeAll(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	if !r.cfg.Metrics.Enabled() || r.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := r.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
}
