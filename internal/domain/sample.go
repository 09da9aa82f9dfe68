package domain

import "time"

// BinCount is the number of particle size bins reported by the OPC-N3.
const BinCount = 24

// Scalar field names in the order they are decoded and logged. The order is
// fixed for the lifetime of a run.
const (
	FieldPM1         = "PM1 (ug/m3)"
	FieldPM25        = "PM2.5 (ug/m3)"
	FieldPM10        = "PM10 (ug/m3)"
	FieldPeriod      = "Period (s)"
	FieldFlowRate    = "Flowrate (ml/s)"
	FieldTemperature = "Temp (C)"
	FieldHumidity    = "RH (%)"
)

// ScalarSchema lists the scalar columns every sample carries.
var ScalarSchema = [...]string{
	FieldPM1,
	FieldPM25,
	FieldPM10,
	FieldPeriod,
	FieldFlowRate,
	FieldTemperature,
	FieldHumidity,
}

// Scalars holds one value per ScalarSchema entry, index-aligned.
type Scalars [len(ScalarSchema)]float64

// Get returns the value of the named field.
func (s Scalars) Get(name string) (float64, bool) {
	for i, n := range ScalarSchema {
		if n == name {
			return s[i], true
		}
	}
	return 0, false
}

// Histogram is either WithHistogram or WithoutHistogram. The unexported
// method keeps the set closed so switches over it stay exhaustive.
type Histogram interface {
	histogram()
}

// WithHistogram carries a full set of bin counts.
type WithHistogram struct {
	Bins [BinCount]uint16
}

// WithoutHistogram marks a sample for which no bin data was reported.
type WithoutHistogram struct{}

func (WithHistogram) histogram()    {}
func (WithoutHistogram) histogram() {}

// Diagnostics are decoded alongside each histogram but are not part of the
// logged schema.
type Diagnostics struct {
	BinMToF        [4]float64 // bins 1, 3, 5, 7 mean time of flight, us
	RejectGlitch   uint16
	RejectLongTOF  uint16
	RejectRatio    uint16
	RejectOutRange uint16
	FanRevCount    uint16
	LaserStatus    uint16
}

// MeasurementSample is one decoded reading from the sensor.
type MeasurementSample struct {
	Timestamp   time.Time
	Scalars     Scalars
	Histogram   Histogram
	Diagnostics Diagnostics
}

// Bins returns the bin counts and true when the sample carries histogram
// data.
func (s *MeasurementSample) Bins() ([BinCount]uint16, bool) {
	if h, ok := s.Histogram.(WithHistogram); ok {
		return h.Bins, true
	}
	return [BinCount]uint16{}, false
}

// DeviceInfo is what the sensor reports about itself.
type DeviceInfo struct {
	Info     string
	Serial   string
	Firmware string
}
