package observability

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

type PromObs struct {
	logger   *log.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	scalars  *prometheus.GaugeVec
	bins     *prometheus.GaugeVec
	rejects  *prometheus.GaugeVec
	lastTS   prometheus.Gauge
}

// NewPromObs registers the agent metrics with the default registerer. A nil
// logger writes to stderr.
func NewPromObs(logger *log.Logger) *PromObs {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	written := counter(ports.MetricSamplesWritten, "Samples appended to the daily log.")
	missed := counter(ports.MetricSlotsMissed, "Scheduled slots that fired late or were skipped.")
	faults := counter(ports.MetricDeviceFaults, "Device reads that ended in a connectivity fault.")
	reconnects := counter(ports.MetricReconnects, "Successful device reconnects.")
	persist := counter(ports.MetricPersistFailures, "Samples dropped because the log could not be written.")
	mirror := counter(ports.MetricMirrorFailures, "Samples the SQL mirror failed to store.")

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: ports.MetricDeviceConnected,
		Help: "1 while a device session is open.",
	})
	lastTS := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcn3_last_sample_timestamp_seconds",
		Help: "Unix time of the last decoded sample.",
	})
	scalars := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opcn3_scalar",
		Help: "Latest scalar values by field name.",
	}, []string{"field"})
	bins := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opcn3_bin_count",
		Help: "Latest particle count per size bin.",
	}, []string{"bin"})
	rejects := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "opcn3_reject_count",
		Help: "Latest rejected particle counts by reason.",
	}, []string{"reason"})

	readLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricReadLatency,
		Help:    "Time taken by a histogram read, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
	appendLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricAppendLatency,
		Help:    "Time taken to append one row to the daily log.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	prometheus.MustRegister(written, missed, faults, reconnects, persist, mirror,
		connected, lastTS, scalars, bins, rejects, readLatency, appendLatency)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricSamplesWritten:  written,
			ports.MetricSlotsMissed:     missed,
			ports.MetricDeviceFaults:    faults,
			ports.MetricReconnects:      reconnects,
			ports.MetricPersistFailures: persist,
			ports.MetricMirrorFailures:  mirror,
		},
		gauges: map[string]prometheus.Gauge{
			ports.MetricDeviceConnected: connected,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricReadLatency:   readLatency,
			ports.MetricAppendLatency: appendLatency,
		},
		scalars: scalars,
		bins:    bins,
		rejects: rejects,
		lastTS:  lastTS,
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordSample(s *domain.MeasurementSample) {
	if s == nil {
		return
	}
	p.lastTS.Set(float64(s.Timestamp.Unix()))
	for i, name := range domain.ScalarSchema {
		p.scalars.WithLabelValues(name).Set(s.Scalars[i])
	}
	if bins, ok := s.Bins(); ok {
		for i, c := range bins {
			p.bins.WithLabelValues(fmt.Sprint(i)).Set(float64(c))
		}
	}
	d := s.Diagnostics
	p.rejects.WithLabelValues("glitch").Set(float64(d.RejectGlitch))
	p.rejects.WithLabelValues("long_tof").Set(float64(d.RejectLongTOF))
	p.rejects.WithLabelValues("ratio").Set(float64(d.RejectRatio))
	p.rejects.WithLabelValues("out_of_range").Set(float64(d.RejectOutRange))
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

var _ ports.Observability = (*PromObs)(nil)
