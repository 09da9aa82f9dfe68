package opcn3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

const (
	idlePoll     = 5 * time.Millisecond
	maxDrainRead = 64
)

// ioFault marks a transport failure that exhausted the local retries.
type ioFault struct{ err error }

func (f *ioFault) Error() string { return f.err.Error() }
func (f *ioFault) Unwrap() error { return f.err }

// Session is an open link to one OPC-N3. Obtain one with Dial; it is not
// meant for concurrent use but its methods are serialised.
type Session struct {
	mu      sync.Mutex
	cfg     Config
	port    io.ReadWriteCloser
	sm      stateMachine
	fanOn   bool
	laserOn bool
	obs     ports.Observability
}

// Dial opens the transport, waits out the sensor boot delay and returns a
// Ready session. A nil open picks the serial port, or the simulator when
// cfg.Simulate is set.
func Dial(ctx context.Context, cfg Config, open Opener, obs ports.Observability) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = OpenSerial
		if cfg.Simulate {
			open = SimulatorOpener(SimulatorOptions{})
		}
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}

	s := &Session{cfg: cfg, obs: obs}
	if err := s.sm.moveTo(Connecting); err != nil {
		return nil, err
	}

	port, err := open(cfg)
	if err != nil {
		_ = s.sm.moveTo(Disconnected)
		return nil, err
	}
	s.port = port

	if err := sleepCtx(ctx, cfg.BootDelay); err != nil {
		_ = port.Close()
		_ = s.sm.moveTo(Disconnected)
		return nil, err
	}
	s.drain()

	if err := s.sm.moveTo(Ready); err != nil {
		_ = port.Close()
		return nil, err
	}
	obs.LogInfo("opcn3_connected",
		ports.Field{Key: "name", Value: cfg.Name},
		ports.Field{Key: "port", Value: cfg.Port},
		ports.Field{Key: "baud", Value: cfg.BaudRate})
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.cur
}

// Power returns the last acknowledged fan and laser state.
func (s *Session) Power() (fan, laser bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanOn, s.laserOn
}

// SetPower switches the fan and the laser. The fan is switched first.
func (s *Session) SetPower(ctx context.Context, fan, laser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPowerLocked(ctx, fan, laser)
}

func (s *Session) setPowerLocked(ctx context.Context, fan, laser bool) error {
	fanParam, laserParam := paramFanOff, paramLaserOff
	if fan {
		fanParam = paramFanOn
	}
	if laser {
		laserParam = paramLaserOn
	}

	if _, err := s.request(ctx, newCommand(opPeripheral, fanParam)); err != nil {
		return fmt.Errorf("set fan power: %w", err)
	}
	s.fanOn = fan
	if _, err := s.request(ctx, newCommand(opPeripheral, laserParam)); err != nil {
		return fmt.Errorf("set laser power: %w", err)
	}
	s.laserOn = laser
	return nil
}

// ReadHistogram requests the histogram, which also resets the sensor's
// accumulation window.
func (s *Session) ReadHistogram(ctx context.Context) (*domain.MeasurementSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := s.request(ctx, newCommand(opHistogram))
	if err != nil {
		return nil, fmt.Errorf("read histogram: %w", err)
	}
	return decodeHistogram(payload, s.cfg.BinData(), time.Now())
}

// ReadPM requests the PM-only record: PM1, PM2.5 and PM10 in ug/m3.
func (s *Session) ReadPM(ctx context.Context) ([3]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pm [3]float64
	payload, err := s.request(ctx, newCommand(opPMData))
	if err != nil {
		return pm, fmt.Errorf("read pm: %w", err)
	}
	if len(payload) != 12 {
		return pm, fmt.Errorf("%w: pm payload is %d bytes, want 12", domain.ErrProtocol, len(payload))
	}
	h := histogram(payload)
	for i := range pm {
		pm[i] = round3(h.f32(i * 4))
	}
	return pm, nil
}

// ReadInfo reads the information string, serial number and firmware
// version.
func (s *Session) ReadInfo(ctx context.Context) (domain.DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info domain.DeviceInfo
	payload, err := s.request(ctx, newCommand(opInfo))
	if err != nil {
		return info, fmt.Errorf("read info string: %w", err)
	}
	info.Info = decodeString(payload)

	if payload, err = s.request(ctx, newCommand(opSerial)); err != nil {
		return info, fmt.Errorf("read serial number: %w", err)
	}
	info.Serial = decodeString(payload)

	if payload, err = s.request(ctx, newCommand(opFirmware)); err != nil {
		return info, fmt.Errorf("read firmware version: %w", err)
	}
	if info.Firmware, err = decodeFirmware(payload); err != nil {
		return info, err
	}
	return info, nil
}

// Close powers the fan and laser down and closes the transport. Errors on
// the way are logged, not returned. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.sm.cur {
	case Disconnected:
		return nil
	case Ready:
		if err := s.setPowerLocked(ctx, false, false); err != nil {
			s.obs.LogError("opcn3_power_down_failed", err)
		}
	default:
		s.obs.LogError("opcn3_power_down_skipped", fmt.Errorf("session is %s", s.sm.cur))
	}

	if err := s.port.Close(); err != nil {
		s.obs.LogError("opcn3_port_close_failed", err)
	}
	if err := s.sm.moveTo(Disconnected); err != nil {
		return err
	}
	s.obs.LogInfo("opcn3_disconnected",
		ports.Field{Key: "name", Value: s.cfg.Name},
		ports.Field{Key: "port", Value: s.cfg.Port})
	return nil
}

// request performs one command exchange, reissuing the command when the
// response is rejected, up to MaxFrameRetries attempts in total.
func (s *Session) request(ctx context.Context, cmd command) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxFrameRetries; attempt++ {
		payload, err := s.exchange(ctx, cmd)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, domain.ErrCorruptFrame) && !errors.Is(err, domain.ErrProtocol) {
			return nil, err
		}
		lastErr = err
		s.obs.LogError("opcn3_frame_rejected", err,
			ports.Field{Key: "name", Value: s.cfg.Name},
			ports.Field{Key: "opcode", Value: fmt.Sprintf("0x%02x", cmd.opcode())},
			ports.Field{Key: "attempt", Value: attempt})
		s.drain()
	}
	return nil, fmt.Errorf("opcode 0x%02x rejected %d times: %w", cmd.opcode(), s.cfg.MaxFrameRetries, lastErr)
}

func (s *Session) exchange(ctx context.Context, cmd command) ([]byte, error) {
	if err := s.sm.begin(); err != nil {
		return nil, err
	}

	payload, err := s.roundTrip(ctx, cmd)

	var fault *ioFault
	if errors.As(err, &fault) {
		s.sm.fault()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, fault.err)
	}
	if ferr := s.sm.finish(); ferr != nil {
		return nil, ferr
	}
	return payload, err
}

func (s *Session) roundTrip(ctx context.Context, cmd command) ([]byte, error) {
	if _, err := s.port.Write(cmd); err != nil {
		return nil, &ioFault{err: fmt.Errorf("write opcode 0x%02x: %w", cmd.opcode(), err)}
	}

	deadline := time.Now().Add(s.cfg.ReadTimeout)

	var hdr header
	if err := s.readFull(ctx, hdr[:], deadline); err != nil {
		return nil, err
	}
	if err := hdr.validate(cmd.opcode()); err != nil {
		return nil, err
	}

	body := make([]byte, hdr.length()+checksumLen)
	if err := s.readFull(ctx, body, deadline); err != nil {
		return nil, err
	}
	return verifyBody(body)
}

// readFull fills buf before deadline. Empty reads are polled; read errors
// are retried up to MaxIORetries times.
func (s *Session) readFull(ctx context.Context, buf []byte, deadline time.Time) error {
	var (
		got      int
		failures int
	)
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %d of %d bytes within %s", domain.ErrTimeout, got, len(buf), s.cfg.ReadTimeout)
		}

		n, err := s.port.Read(buf[got:])
		got += n
		switch {
		case err == nil || errors.Is(err, io.EOF):
			if n == 0 {
				time.Sleep(idlePoll)
			}
		default:
			failures++
			if failures > s.cfg.MaxIORetries {
				return &ioFault{err: fmt.Errorf("read after %d retries: %w", s.cfg.MaxIORetries, err)}
			}
		}
	}
	return nil
}

// drain discards bytes left over from a rejected frame.
func (s *Session) drain() {
	buf := make([]byte, 256)
	for i := 0; i < maxDrainRead; i++ {
		n, err := s.port.Read(buf)
		if n == 0 || (err != nil && !errors.Is(err, io.EOF)) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dialer opens sessions on demand for the agent.
type Dialer struct {
	Config Config
	Open   Opener
	Obs    ports.Observability
}

func (d *Dialer) Dial(ctx context.Context) (ports.Device, error) {
	s, err := Dial(ctx, d.Config, d.Open, d.Obs)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var (
	_ ports.Device = (*Session)(nil)
	_ ports.Dialer = (*Dialer)(nil)
)
