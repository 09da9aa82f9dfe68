// Package agent drives the measurement loop: wait for the next slot, read
// the sensor, append the sample, and keep the device session alive.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/internal/app/schedule"
	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

const defaultShutdownTimeout = 5 * time.Second

type Config struct {
	Dialer ports.Dialer
	Sink   ports.Sink
	// Mirror receives a copy of every sample. Optional.
	Mirror ports.Sink
	Target domain.StorageTarget

	Interval time.Duration
	Policy   ports.Policy
	Clock    ports.Clock
	Obs      ports.Observability

	ShutdownTimeout time.Duration
}

type Agent struct {
	dialer ports.Dialer
	sink   ports.Sink
	mirror ports.Sink
	target domain.StorageTarget
	sched  *schedule.Schedule
	pol    ports.Policy
	clock  ports.Clock
	obs    ports.Observability

	shutdownTimeout time.Duration

	dev             ports.Device
	persistFailures int
}

func New(cfg Config) (*Agent, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("%w: agent needs a device dialer", domain.ErrConfiguration)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: agent needs a sink", domain.ErrConfiguration)
	}
	sched, err := schedule.New(cfg.Interval)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}
	if cfg.Obs == nil {
		cfg.Obs = ports.NopObservability{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Policy.BackoffInitial <= 0 {
		cfg.Policy.BackoffInitial = time.Second
	}
	if cfg.Policy.BackoffMax < cfg.Policy.BackoffInitial {
		cfg.Policy.BackoffMax = cfg.Policy.BackoffInitial
	}

	return &Agent{
		dialer:          cfg.Dialer,
		sink:            cfg.Sink,
		mirror:          cfg.Mirror,
		target:          cfg.Target,
		sched:           sched,
		pol:             cfg.Policy,
		clock:           cfg.Clock,
		obs:             cfg.Obs,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Run blocks until ctx is cancelled or storage stays unwritable for more
// than Policy.MaxPersistFailures consecutive ticks. The device is powered
// down before Run returns in either case. Cancellation is not an error.
func (a *Agent) Run(ctx context.Context) error {
	a.obs.LogInfo("storage_resolved",
		ports.Field{Key: "dir", Value: a.target.Dir},
		ports.Field{Key: "provenance", Value: a.target.Provenance})

	defer a.disconnect()

	if err := a.connect(ctx); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return err
		}
		a.obs.LogError("device_connect_failed", err)
		if err := a.reconnect(ctx); err != nil {
			return ignoreCancel(err)
		}
	}

	first := a.sched.Start(a.clock.Now())
	a.obs.LogInfo("schedule_started",
		ports.Field{Key: "interval", Value: a.sched.Interval()},
		ports.Field{Key: "first_fire", Value: first.Format(time.RFC3339)})

	for {
		if ctx.Err() != nil {
			return nil
		}
		late, err := a.sched.Wait(ctx, a.clock)
		if err != nil {
			return ignoreCancel(err)
		}
		slot := a.sched.Next()
		if late {
			a.obs.LogInfo("late_slot", ports.Field{Key: "slot", Value: slot.Format(time.RFC3339)})
		}

		if err := a.tick(ctx, slot); err != nil {
			return ignoreCancel(err)
		}

		if _, skipped := a.sched.Advance(a.clock.Now()); skipped > 0 {
			a.obs.IncCounter(ports.MetricSlotsMissed, float64(skipped))
			a.obs.LogInfo("missed_slot",
				ports.Field{Key: "skipped", Value: skipped},
				ports.Field{Key: "next", Value: a.sched.Next().Format(time.RFC3339)})
		}
	}
}

// tick takes one measurement. Only a fatal condition or cancellation is
// returned; device faults and single write failures are absorbed.
func (a *Agent) tick(ctx context.Context, slot time.Time) error {
	if a.dev == nil {
		if err := a.reconnect(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	sample, err := a.dev.ReadHistogram(ctx)
	a.obs.ObserveLatency(ports.MetricReadLatency, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.obs.IncCounter(ports.MetricDeviceFaults, 1)
		a.obs.LogError("device_fault", err,
			ports.Field{Key: "slot", Value: slot.Format(time.RFC3339)},
			ports.Field{Key: "connectivity", Value: domain.IsDeviceFault(err)})
		a.disconnect()
		return a.reconnect(ctx)
	}

	sample.Timestamp = slot
	return a.persist(sample)
}

func (a *Agent) persist(s *domain.MeasurementSample) error {
	start := time.Now()
	err := a.sink.AppendSample(s, a.target)
	a.obs.ObserveLatency(ports.MetricAppendLatency, time.Since(start).Seconds())

	if a.mirror != nil {
		if merr := a.mirror.AppendSample(s, a.target); merr != nil {
			a.obs.IncCounter(ports.MetricMirrorFailures, 1)
			a.obs.LogError("mirror_failed", merr, ports.Field{Key: "sink", Value: a.mirror.Name()})
		}
	}

	if err != nil {
		a.persistFailures++
		a.obs.IncCounter(ports.MetricPersistFailures, 1)
		a.obs.LogError("sample_dropped", err,
			ports.Field{Key: "sink", Value: a.sink.Name()},
			ports.Field{Key: "consecutive", Value: a.persistFailures})
		if a.persistFailures > a.pol.MaxPersistFailures {
			a.obs.LogCritical("storage_unwritable", err, ports.Field{Key: "dir", Value: a.target.Dir})
			return fmt.Errorf("%d consecutive write failures: %w", a.persistFailures, err)
		}
		return nil
	}
	a.persistFailures = 0

	a.obs.IncCounter(ports.MetricSamplesWritten, 1)
	a.obs.RecordSample(s)
	_, hasBins := s.Bins()
	a.obs.LogInfo("sample_written",
		ports.Field{Key: "ts", Value: s.Timestamp.Format(time.RFC3339)},
		ports.Field{Key: "pm1", Value: s.Scalars[0]},
		ports.Field{Key: "pm2_5", Value: s.Scalars[1]},
		ports.Field{Key: "pm10", Value: s.Scalars[2]},
		ports.Field{Key: "bins", Value: hasBins})
	return nil
}

// connect dials the sensor and runs the fan/laser self-test.
func (a *Agent) connect(ctx context.Context) error {
	dev, err := a.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	if err := selfTest(ctx, dev); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		if cerr := dev.Close(closeCtx); cerr != nil {
			a.obs.LogError("device_close_failed", cerr)
		}
		return fmt.Errorf("self-test: %w", err)
	}

	if info, err := dev.ReadInfo(ctx); err != nil {
		a.obs.LogError("device_info_failed", err)
	} else {
		a.obs.LogInfo("device_info",
			ports.Field{Key: "info", Value: info.Info},
			ports.Field{Key: "serial", Value: info.Serial},
			ports.Field{Key: "firmware", Value: info.Firmware})
	}

	a.dev = dev
	a.obs.SetGauge(ports.MetricDeviceConnected, 1)
	return nil
}

// selfTest cycles the peripherals off and back on, leaving both running.
func selfTest(ctx context.Context, dev ports.Device) error {
	if err := dev.SetPower(ctx, false, false); err != nil {
		return err
	}
	return dev.SetPower(ctx, true, true)
}

// reconnect retries connect with a doubling, capped wait until it succeeds,
// ctx ends, or the failure is a configuration error.
func (a *Agent) reconnect(ctx context.Context) error {
	wait := a.pol.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(wait):
		}

		err := a.connect(ctx)
		if err == nil {
			a.obs.IncCounter(ports.MetricReconnects, 1)
			a.obs.LogInfo("reconnected")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrConfiguration) {
			return err
		}

		wait = nextBackoff(wait, a.pol.BackoffMax)
		a.obs.LogError("reconnect_failed", err, ports.Field{Key: "retry_in", Value: wait})
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}

// disconnect powers the device down with a fresh deadline, since the run
// context may already be cancelled.
func (a *Agent) disconnect() {
	if a.dev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if err := a.dev.Close(ctx); err != nil {
		a.obs.LogError("device_close_failed", err)
	}
	a.dev = nil
	a.obs.SetGauge(ports.MetricDeviceConnected, 0)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
