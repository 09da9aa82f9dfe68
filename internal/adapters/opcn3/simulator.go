package opcn3

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math"
	"math/rand"
	"sync"
)

// FaultKind selects how the simulator damages a response.
type FaultKind int

const (
	// FaultCorrupt flips one payload byte after the checksum is computed.
	FaultCorrupt FaultKind = iota
	// FaultSilence drops the response entirely.
	FaultSilence
	// FaultBadAck replaces the acknowledgement byte.
	FaultBadAck
)

// Fault is applied once to the next response for Opcode (0 matches any).
type Fault struct {
	Kind   FaultKind
	Opcode byte
	Offset int
}

// SimulatorOptions tunes the simulated sensor.
type SimulatorOptions struct {
	Seed      int64
	ChunkSize int
	Info      string
	Serial    string
	Firmware  [2]byte
}

// Simulator speaks the sensor protocol over an in-memory byte stream.
type Simulator struct {
	mu       sync.Mutex
	opts     SimulatorOptions
	rng      *rand.Rand
	in       []byte
	out      []byte
	closed   bool
	fanOn    bool
	laserOn  bool
	histReqs int
	faults   []Fault
	readErrs int
}

func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Seed == 0 {
		opts.Seed = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 16
	}
	if opts.Info == "" {
		opts.Info = "OPC-N3 Iss1.1 FirmwareVer=1.17a...................BS"
	}
	if opts.Serial == "" {
		opts.Serial = "OPC-N3 177-000001"
	}
	if opts.Firmware == [2]byte{} {
		opts.Firmware = [2]byte{1, 17}
	}
	return &Simulator{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// SimulatorOpener returns an Opener that creates a fresh simulator per dial.
func SimulatorOpener(opts SimulatorOptions) Opener {
	return func(Config) (io.ReadWriteCloser, error) {
		return NewSimulator(opts), nil
	}
}

// Inject queues faults for upcoming responses.
func (s *Simulator) Inject(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// FailReads makes the next n Read calls return an error.
func (s *Simulator) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErrs = n
}

func (s *Simulator) Power() (fan, laser bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fanOn, s.laserOn
}

func (s *Simulator) HistogramRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histReqs
}

func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fs.ErrClosed
	}
	s.in = append(s.in, p...)
	for len(s.in) > 0 {
		need := 1
		if s.in[0] == opPeripheral {
			need = 2
		}
		if len(s.in) < need {
			break
		}
		cmd := command(append([]byte(nil), s.in[:need]...))
		s.in = s.in[need:]
		s.respond(cmd)
	}
	return len(p), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fs.ErrClosed
	}
	if s.readErrs > 0 {
		s.readErrs--
		return 0, errors.New("simulated read failure")
	}
	if len(s.out) == 0 {
		return 0, nil
	}
	n := len(p)
	if n > s.opts.ChunkSize {
		n = s.opts.ChunkSize
	}
	n = copy(p[:n], s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) respond(cmd command) {
	var payload []byte
	switch cmd.opcode() {
	case opPeripheral:
		switch cmd[1] {
		case paramFanOn:
			s.fanOn = true
		case paramFanOff:
			s.fanOn = false
		case paramLaserOn:
			s.laserOn = true
		case paramLaserOff:
			s.laserOn = false
		}
	case opHistogram:
		s.histReqs++
		payload = s.nextHistogram().encode()
	case opPMData:
		h := s.nextHistogram()
		payload = make([]byte, 0, 12)
		for _, v := range h.pm {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}
	case opInfo:
		payload = padded(s.opts.Info, 60)
	case opSerial:
		payload = padded(s.opts.Serial, 60)
	case opFirmware:
		payload = s.opts.Firmware[:]
	default:
		s.out = append(s.out, 0x31, cmd.opcode(), 0, 0)
		return
	}

	frame := encodeResponse(cmd.opcode(), payload)
	if f, ok := s.takeFault(cmd.opcode()); ok {
		switch f.Kind {
		case FaultSilence:
			return
		case FaultBadAck:
			frame[0] = 0x31
		case FaultCorrupt:
			if len(payload) > 0 {
				frame[headerLen+f.Offset%len(payload)] ^= 0xFF
			} else {
				frame[len(frame)-1] ^= 0xFF
			}
		}
	}
	s.out = append(s.out, frame...)
}

func (s *Simulator) takeFault(op byte) (Fault, bool) {
	for i, f := range s.faults {
		if f.Opcode == 0 || f.Opcode == op {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f, true
		}
	}
	return Fault{}, false
}

func (s *Simulator) nextHistogram() histogramFields {
	var h histogramFields
	h.period = 500
	h.flow = 550 + uint16(s.rng.Intn(50))
	h.tempRaw = 24000 + uint16(s.rng.Intn(2000))
	h.rhRaw = 30000 + uint16(s.rng.Intn(5000))
	h.fanRev = uint16(s.rng.Intn(100))
	if !s.laserOn || !s.fanOn {
		return h
	}
	h.laser = 600
	count := 400 + s.rng.Intn(200)
	for i := range h.bins {
		h.bins[i] = uint16(count)
		count /= 2
		count += s.rng.Intn(3)
	}
	for i := range h.mtof {
		h.mtof[i] = uint8(20 + s.rng.Intn(40))
	}
	base := 2 + s.rng.Float32()*10
	h.pm = [3]float32{base, base * 1.6, base * 2.4}
	return h
}

// histogramFields is the decoded form of a histogram payload, used to build
// one.
type histogramFields struct {
	bins    [24]uint16
	mtof    [4]uint8
	period  uint16
	flow    uint16
	tempRaw uint16
	rhRaw   uint16
	pm      [3]float32
	rejects [4]uint16
	fanRev  uint16
	laser   uint16
}

func (h histogramFields) encode() []byte {
	out := make([]byte, 0, histogramPayloadLen)
	for _, b := range h.bins {
		out = binary.LittleEndian.AppendUint16(out, b)
	}
	out = append(out, h.mtof[:]...)
	out = binary.LittleEndian.AppendUint16(out, h.period)
	out = binary.LittleEndian.AppendUint16(out, h.flow)
	out = binary.LittleEndian.AppendUint16(out, h.tempRaw)
	out = binary.LittleEndian.AppendUint16(out, h.rhRaw)
	for _, v := range h.pm {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	for _, r := range h.rejects {
		out = binary.LittleEndian.AppendUint16(out, r)
	}
	out = binary.LittleEndian.AppendUint16(out, h.fanRev)
	return binary.LittleEndian.AppendUint16(out, h.laser)
}

func padded(s string, n int) []byte {
	out := make([]byte, n)
	copy(out, s)
	return out
}

var _ io.ReadWriteCloser = (*Simulator)(nil)
