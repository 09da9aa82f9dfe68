package agent

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/csvlog"
	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type fakeDevice struct {
	readErrs []error
	onRead   func(n int)

	reads  int
	power  [][2]bool
	closed int
}

func (d *fakeDevice) SetPower(_ context.Context, fan, laser bool) error {
	d.power = append(d.power, [2]bool{fan, laser})
	return nil
}

func (d *fakeDevice) ReadHistogram(context.Context) (*domain.MeasurementSample, error) {
	d.reads++
	if d.onRead != nil {
		d.onRead(d.reads)
	}
	if i := d.reads - 1; i < len(d.readErrs) && d.readErrs[i] != nil {
		return nil, d.readErrs[i]
	}
	var bins [domain.BinCount]uint16
	bins[0] = uint16(d.reads)
	return &domain.MeasurementSample{
		Timestamp: time.Now(),
		Scalars:   domain.Scalars{float64(d.reads), 2, 3, 5, 5.5, 21, 40},
		Histogram: domain.WithHistogram{Bins: bins},
	}, nil
}

func (d *fakeDevice) ReadInfo(context.Context) (domain.DeviceInfo, error) {
	return domain.DeviceInfo{Info: "OPC-N3 fake", Serial: "177", Firmware: "1.17"}, nil
}

func (d *fakeDevice) Close(context.Context) error {
	d.closed++
	d.power = append(d.power, [2]bool{false, false})
	return nil
}

type fakeDialer struct {
	devices []*fakeDevice
	errs    []error
	dials   int
}

func (f *fakeDialer) Dial(context.Context) (ports.Device, error) {
	i := f.dials
	f.dials++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.devices) == 0 {
		return nil, fmt.Errorf("%w: no device", domain.ErrConnection)
	}
	d := f.devices[0]
	if len(f.devices) > 1 {
		f.devices = f.devices[1:]
	}
	return d, nil
}

type failingSink struct{ calls int }

func (s *failingSink) AppendSample(*domain.MeasurementSample, domain.StorageTarget) error {
	s.calls++
	return fmt.Errorf("%w: read-only file system", domain.ErrPersistence)
}
func (s *failingSink) Name() string { return "failing" }

type recordingSink struct{ samples []*domain.MeasurementSample }

func (s *recordingSink) AppendSample(m *domain.MeasurementSample, _ domain.StorageTarget) error {
	s.samples = append(s.samples, m)
	return nil
}
func (s *recordingSink) Name() string { return "recording" }

type mockObs struct {
	ports.NopObservability
	counters map[string]float64
	events   []string
}

func newMockObs() *mockObs { return &mockObs{counters: map[string]float64{}} }

func (m *mockObs) IncCounter(name string, v float64) { m.counters[name] += v }
func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.events = append(m.events, msg)
}
func (m *mockObs) LogError(msg string, _ error, _ ...ports.Field) {
	m.events = append(m.events, msg)
}
func (m *mockObs) LogCritical(msg string, _ error, _ ...ports.Field) {
	m.events = append(m.events, msg)
}

func (m *mockObs) saw(event string) bool {
	for _, e := range m.events {
		if e == event {
			return true
		}
	}
	return false
}

var testPolicy = ports.Policy{
	MaxPersistFailures: 3,
	BackoffInitial:     time.Second,
	BackoffMax:         4 * time.Second,
}

func TestRunSkipsTimedOutTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeDevice{readErrs: []error{nil, fmt.Errorf("%w: no response", domain.ErrTimeout)}}
	second := &fakeDevice{onRead: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	dialer := &fakeDialer{devices: []*fakeDevice{first, second}}
	fs := afero.NewMemMapFs()
	target := domain.StorageTarget{Dir: "/logs", Provenance: domain.ProvenanceHome}
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 2, 13, 0, time.UTC)}
	obs := newMockObs()

	a, err := New(Config{
		Dialer:   dialer,
		Sink:     csvlog.NewWriter(fs),
		Target:   target,
		Interval: 5 * time.Minute,
		Policy:   testPolicy,
		Clock:    clock,
		Obs:      obs,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := fs.Open("/logs/2024-06-01.csv")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d rows", len(rows))
	}
	if len(rows[0]) != 32 || len(rows[1]) != 32 {
		t.Fatalf("unexpected column counts %d/%d", len(rows[0]), len(rows[1]))
	}

	t1, _ := time.Parse(time.RFC3339, rows[1][0])
	t2, _ := time.Parse(time.RFC3339, rows[2][0])
	if !t1.Equal(time.Date(2024, 6, 1, 0, 5, 0, 0, time.UTC)) {
		t.Fatalf("first row at %s", t1)
	}
	if gap := t2.Sub(t1); gap != 10*time.Minute {
		t.Fatalf("expected a two-interval gap, got %s", gap)
	}

	if first.closed != 1 || second.closed != 1 {
		t.Fatalf("expected each session closed once, got %d/%d", first.closed, second.closed)
	}
	if obs.counters[ports.MetricDeviceFaults] != 1 || obs.counters[ports.MetricReconnects] != 1 {
		t.Fatalf("unexpected counters %v", obs.counters)
	}
	if obs.counters[ports.MetricSamplesWritten] != 2 {
		t.Fatalf("expected two samples written, got %v", obs.counters[ports.MetricSamplesWritten])
	}
}

func TestRunSelfTestAndShutdownPowerOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &fakeDevice{onRead: func(int) { cancel() }}
	sink := &recordingSink{}

	a, err := New(Config{
		Dialer:   &fakeDialer{devices: []*fakeDevice{dev}},
		Sink:     sink,
		Interval: time.Minute,
		Policy:   testPolicy,
		Clock:    &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := [][2]bool{{false, false}, {true, true}, {false, false}}
	if fmt.Sprint(dev.power) != fmt.Sprint(want) {
		t.Fatalf("power sequence %v, want %v", dev.power, want)
	}
	if len(sink.samples) != 1 {
		t.Fatalf("expected one sample, got %d", len(sink.samples))
	}
	if got := sink.samples[0].Timestamp; !got.Equal(time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC)) {
		t.Fatalf("sample not stamped with slot time: %s", got)
	}
}

func TestRunEscalatesPersistentWriteFailures(t *testing.T) {
	dev := &fakeDevice{}
	sink := &failingSink{}
	obs := newMockObs()

	a, _ := New(Config{
		Dialer:   &fakeDialer{devices: []*fakeDevice{dev}},
		Sink:     sink,
		Interval: time.Minute,
		Policy:   testPolicy,
		Clock:    &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		Obs:      obs,
	})

	err := a.Run(context.Background())
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if sink.calls != 4 {
		t.Fatalf("expected failure on the fourth consecutive write, got %d calls", sink.calls)
	}
	if dev.closed != 1 {
		t.Fatalf("expected device shut down before exit, closed=%d", dev.closed)
	}
	if !obs.saw("storage_unwritable") {
		t.Fatalf("expected critical log, got %v", obs.events)
	}
}

func TestPersistFailureCounterResetsOnSuccess(t *testing.T) {
	a, _ := New(Config{
		Dialer:   &fakeDialer{},
		Sink:     &failingSink{},
		Interval: time.Minute,
		Policy:   testPolicy,
	})
	s := &domain.MeasurementSample{Histogram: domain.WithoutHistogram{}}
	for i := 0; i < 3; i++ {
		if err := a.persist(s); err != nil {
			t.Fatalf("failure %d escalated early: %v", i+1, err)
		}
	}

	a.sink = &recordingSink{}
	if err := a.persist(s); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if a.persistFailures != 0 {
		t.Fatalf("expected counter reset, got %d", a.persistFailures)
	}
}

func TestRunRetriesInitialConnectWithBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &fakeDevice{onRead: func(int) { cancel() }}
	noDevice := fmt.Errorf("%w: port missing", domain.ErrConnection)
	dialer := &fakeDialer{
		devices: []*fakeDevice{dev},
		errs:    []error{noDevice, noDevice, noDevice, noDevice},
	}
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	obs := newMockObs()

	a, _ := New(Config{
		Dialer:   dialer,
		Sink:     &recordingSink{},
		Interval: time.Minute,
		Policy:   testPolicy,
		Clock:    clock,
		Obs:      obs,
	})
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if dialer.dials != 5 {
		t.Fatalf("expected five dial attempts, got %d", dialer.dials)
	}
	// Waits of 1s, 2s, 4s and 4s (capped) before the device appears, then
	// the first slot at 12:01.
	if !clock.now.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected clock %s", clock.now)
	}
	if obs.counters[ports.MetricReconnects] != 1 {
		t.Fatalf("expected one reconnect, got %v", obs.counters[ports.MetricReconnects])
	}
}

func TestRunFailsFastOnConfigurationError(t *testing.T) {
	dialer := &fakeDialer{errs: []error{fmt.Errorf("%w: unsupported baud rate", domain.ErrConfiguration)}}
	a, _ := New(Config{Dialer: dialer, Sink: &recordingSink{}, Interval: time.Minute, Policy: testPolicy})

	err := a.Run(context.Background())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if dialer.dials != 1 {
		t.Fatalf("expected no retries, got %d dials", dialer.dials)
	}
}

func TestRunCountsSkippedSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 30, 0, time.UTC)}
	dev := &fakeDevice{onRead: func(n int) {
		switch n {
		case 1:
			clock.now = clock.now.Add(3*time.Minute + 10*time.Second)
		case 2:
			cancel()
		}
	}}
	sink := &recordingSink{}
	obs := newMockObs()

	a, _ := New(Config{
		Dialer:   &fakeDialer{devices: []*fakeDevice{dev}},
		Sink:     sink,
		Interval: time.Minute,
		Policy:   testPolicy,
		Clock:    clock,
		Obs:      obs,
	})
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// First slot 12:01, read overruns to 12:04:10: 12:02 and 12:03 are
	// skipped and 12:04 fires late.
	if obs.counters[ports.MetricSlotsMissed] != 2 {
		t.Fatalf("expected two skipped slots, got %v", obs.counters[ports.MetricSlotsMissed])
	}
	if len(sink.samples) != 2 {
		t.Fatalf("expected two samples, got %d", len(sink.samples))
	}
	if got := sink.samples[1].Timestamp; !got.Equal(time.Date(2024, 6, 1, 12, 4, 0, 0, time.UTC)) {
		t.Fatalf("late slot stamped %s", got)
	}
	if !obs.saw("late_slot") {
		t.Fatalf("expected late slot log, got %v", obs.events)
	}
}

func TestRunFollowsForwardClockStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 23, 42, 13, 0, time.UTC)}
	dev := &fakeDevice{onRead: func(n int) {
		switch n {
		case 1:
			// Time sync lands mid-read and moves the clock 12h07m ahead.
			clock.now = clock.now.Add(12*time.Hour + 7*time.Minute)
		case 3:
			cancel()
		}
	}}
	fs := afero.NewMemMapFs()
	target := domain.StorageTarget{Dir: "/logs", Provenance: domain.ProvenanceHome}

	a, err := New(Config{
		Dialer:   &fakeDialer{devices: []*fakeDevice{dev}},
		Sink:     csvlog.NewWriter(fs),
		Target:   target,
		Interval: 5 * time.Minute,
		Policy:   testPolicy,
		Clock:    clock,
		Obs:      newMockObs(),
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	stamps := func(path string) []time.Time {
		f, err := fs.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		var out []time.Time
		for _, row := range rows[1:] {
			ts, err := time.Parse(time.RFC3339, row[0])
			if err != nil {
				t.Fatalf("parse timestamp %q: %v", row[0], err)
			}
			out = append(out, ts)
		}
		return out
	}

	before := stamps("/logs/2024-06-01.csv")
	if len(before) != 1 || !before[0].Equal(time.Date(2024, 6, 1, 23, 45, 0, 0, time.UTC)) {
		t.Fatalf("unexpected rows before the step: %v", before)
	}
	// Clock reads 11:52 after the step: 11:50 fires late, then 11:55 on time.
	after := stamps("/logs/2024-06-02.csv")
	want := []time.Time{
		time.Date(2024, 6, 2, 11, 50, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 11, 55, 0, 0, time.UTC),
	}
	if len(after) != len(want) {
		t.Fatalf("expected %d rows after the step, got %v", len(want), after)
	}
	for i := range want {
		if !after[i].Equal(want[i]) {
			t.Fatalf("row %d stamped %s, want %s", i, after[i], want[i])
		}
	}
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := &fakeDevice{}

	a, _ := New(Config{
		Dialer:   &fakeDialer{devices: []*fakeDevice{dev}},
		Sink:     &recordingSink{},
		Interval: time.Minute,
		Policy:   testPolicy,
		Clock:    &fakeClock{now: time.Now()},
	})
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if dev.reads != 0 {
		t.Fatalf("expected no reads after cancellation, got %d", dev.reads)
	}
	if dev.closed != 1 {
		t.Fatalf("expected power-down on exit, closed=%d", dev.closed)
	}
}

func TestNewRejectsUnsupportedInterval(t *testing.T) {
	_, err := New(Config{Dialer: &fakeDialer{}, Sink: &recordingSink{}, Interval: 7 * time.Minute})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNextBackoff(t *testing.T) {
	cases := []struct{ cur, limit, want time.Duration }{
		{time.Second, time.Minute, 2 * time.Second},
		{40 * time.Second, time.Minute, time.Minute},
		{time.Minute, time.Minute, time.Minute},
	}
	for _, c := range cases {
		if got := nextBackoff(c.cur, c.limit); got != c.want {
			t.Fatalf("nextBackoff(%s, %s) = %s, want %s", c.cur, c.limit, got, c.want)
		}
	}
}
