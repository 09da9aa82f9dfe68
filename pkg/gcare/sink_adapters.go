package gcare

import (
	"errors"
	"fmt"
	"sync"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("gcare: channel sink closed")

// SampleFunc handles one sample. The sample is a copy owned by the callee.
type SampleFunc func(Sample) error

// NewCallbackSink adapts a SampleFunc into a full Sink implementation so
// callers can plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn SampleFunc) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes samples via a channel; it returns the sink, the
// read-only channel, and a close function that the caller should invoke
// during shutdown. A full channel blocks the measurement loop.
func NewChannelSink(name string, buffer int) (Sink, <-chan Sample, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Sample, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   SampleFunc
}

func (s *callbackSink) AppendSample(sample *domain.MeasurementSample, _ domain.StorageTarget) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if sample == nil {
		return nil
	}
	return s.fn(*sample)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan Sample
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
}

func (s *channelSink) AppendSample(sample *domain.MeasurementSample, _ domain.StorageTarget) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if sample == nil {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- *sample:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
