package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestSampleBinsVariant(t *testing.T) {
	var bins [BinCount]uint16
	bins[3] = 7

	with := MeasurementSample{Histogram: WithHistogram{Bins: bins}}
	got, ok := with.Bins()
	if !ok || got[3] != 7 {
		t.Fatalf("expected bins from WithHistogram, got ok=%v bins=%v", ok, got)
	}

	without := MeasurementSample{Histogram: WithoutHistogram{}}
	if _, ok := without.Bins(); ok {
		t.Fatalf("expected no bins from WithoutHistogram")
	}

	var empty MeasurementSample
	if _, ok := empty.Bins(); ok {
		t.Fatalf("expected no bins from nil histogram")
	}
}

func TestScalarsGet(t *testing.T) {
	var s Scalars
	s[2] = 12.5
	v, ok := s.Get(FieldPM10)
	if !ok || v != 12.5 {
		t.Fatalf("expected PM10 12.5, got %v ok=%v", v, ok)
	}
	if _, ok := s.Get("nope"); ok {
		t.Fatalf("expected unknown field lookup to fail")
	}
}

func TestIsDeviceFault(t *testing.T) {
	for _, err := range []error{ErrConnection, ErrProtocol, ErrCorruptFrame, ErrTimeout} {
		if !IsDeviceFault(fmt.Errorf("wrapped: %w", err)) {
			t.Fatalf("expected %v to be a device fault", err)
		}
	}
	for _, err := range []error{ErrPersistence, ErrConfiguration, errors.New("other")} {
		if IsDeviceFault(err) {
			t.Fatalf("expected %v not to be a device fault", err)
		}
	}
}
