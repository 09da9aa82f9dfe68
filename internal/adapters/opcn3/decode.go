package opcn3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// histogram is the 84-byte payload of an opHistogram response.
type histogram []byte

func (h histogram) u16(off int) uint16 { return binary.LittleEndian.Uint16(h[off : off+2]) }

func (h histogram) f32(off int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(h[off : off+4])))
}

func (h histogram) bins() (out [domain.BinCount]uint16) {
	for i := range out {
		out[i] = h.u16(i * 2)
	}
	return out
}

func (h histogram) scalars() domain.Scalars {
	return domain.Scalars{
		round3(h.f32(60)),
		round3(h.f32(64)),
		round3(h.f32(68)),
		float64(h.u16(52)) / 100,
		float64(h.u16(54)) / 100,
		round3(convertTemperature(h.u16(56))),
		round3(convertHumidity(h.u16(58))),
	}
}

func (h histogram) diagnostics() domain.Diagnostics {
	var d domain.Diagnostics
	for i := range d.BinMToF {
		d.BinMToF[i] = float64(h[48+i]) / 3
	}
	d.RejectGlitch = h.u16(72)
	d.RejectLongTOF = h.u16(74)
	d.RejectRatio = h.u16(76)
	d.RejectOutRange = h.u16(78)
	d.FanRevCount = h.u16(80)
	d.LaserStatus = h.u16(82)
	return d
}

func decodeHistogram(payload []byte, useBins bool, ts time.Time) (*domain.MeasurementSample, error) {
	if len(payload) != histogramPayloadLen {
		return nil, fmt.Errorf("%w: histogram payload is %d bytes, want %d", domain.ErrProtocol, len(payload), histogramPayloadLen)
	}
	h := histogram(payload)
	s := &domain.MeasurementSample{
		Timestamp:   ts,
		Scalars:     h.scalars(),
		Diagnostics: h.diagnostics(),
		Histogram:   domain.WithoutHistogram{},
	}
	if useBins {
		s.Histogram = domain.WithHistogram{Bins: h.bins()}
	}
	return s, nil
}

func decodeString(payload []byte) string {
	return strings.TrimSpace(string(bytes.Trim(payload, "\x00")))
}

func decodeFirmware(payload []byte) (string, error) {
	if len(payload) != 2 {
		return "", fmt.Errorf("%w: firmware payload is %d bytes, want 2", domain.ErrProtocol, len(payload))
	}
	return fmt.Sprintf("%d.%d", payload[0], payload[1]), nil
}

// convertTemperature applies the datasheet conversion for the raw
// temperature word.
func convertTemperature(raw uint16) float64 {
	return -45 + 175*(float64(raw)/65535)
}

// convertHumidity applies the datasheet conversion for the raw RH word.
func convertHumidity(raw uint16) float64 {
	return 100 * (float64(raw) / 65535)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
