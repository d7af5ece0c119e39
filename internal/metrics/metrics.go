// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "framekit"

// Metrics holds all gateway metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesTotal        *prometheus.CounterVec
	FrameBytes         prometheus.Histogram
	ExtractionFailures *prometheus.CounterVec
	ScanCapHits        *prometheus.CounterVec
	TransformFailures  prometheus.Counter
	BuildsTotal        *prometheus.CounterVec
	BytesTotal         *prometheus.CounterVec
	SessionsActive     prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames extracted from device streams",
		}, []string{"protocol", "strategy"}),

		FrameBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of extracted frames in bytes",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 12),
		}),

		ExtractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Script framing attempts that fell back to keeping the buffer",
		}, []string{"strategy", "reason"}),

		ScanCapHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cap_hits_total",
			Help:      "Scans stopped by the iteration cap",
		}, []string{"strategy"}),

		TransformFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_failures_total",
			Help:      "Field transforms that failed and fell back to the raw value",
		}),

		BuildsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Outbound message builds",
		}, []string{"result"}),

		BytesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes moved through device connections",
		}, []string{"direction"}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open device connections",
		}),

		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Device connections by protocol",
		}, []string{"protocol"}),
	}
}

func (m *Metrics) RecordFrames(protocolName, strategy string, sizes ...int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(protocolName, strategy).Add(float64(len(sizes)))
	for _, n := range sizes {
		m.FrameBytes.Observe(float64(n))
	}
}

func (m *Metrics) RecordExtractionFailure(strategy, reason string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(strategy, reason).Inc()
}

func (m *Metrics) RecordScanCap(strategy string) {
	if m == nil {
		return
	}
	m.ScanCapHits.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordTransformFailure() {
	if m == nil {
		return
	}
	m.TransformFailures.Inc()
}

func (m *Metrics) RecordBuild(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.BuildsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) SessionOpened(protocolName string) {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(protocolName).Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
