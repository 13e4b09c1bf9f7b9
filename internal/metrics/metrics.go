// Package metrics exposes pipeline counters to Prometheus. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sdrstream"

// Metrics holds the per-channel pipeline counters.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived  *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	framesMalformed *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	handoffDropped  *prometheus.CounterVec
	framesPublished *prometheus.CounterVec
	channelsActive  prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry that
// also carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Messages received from the transport per channel.",
		}, []string{"channel"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes received from the transport per channel.",
		}, []string{"channel"}),
		framesMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Messages dropped because they did not decode as the channel type.",
		}, []string{"channel"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Consumer sink invocations that returned an error or panicked.",
		}, []string{"channel"}),
		handoffDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_dropped_total",
			Help:      "Blocks discarded by a full consumer queue.",
		}, []string{"queue"}),
		framesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Messages handed to a publisher endpoint.",
		}, []string{"address"}),
		channelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Channels whose receive loop is running.",
		}),
	}
	reg.MustRegister(
		m.framesReceived,
		m.bytesReceived,
		m.framesMalformed,
		m.sinkFailures,
		m.handoffDropped,
		m.framesPublished,
		m.channelsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameReceived(channel string, n int) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(channel).Inc()
	m.bytesReceived.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) FrameMalformed(channel string) {
	if m == nil {
		return
	}
	m.framesMalformed.WithLabelValues(channel).Inc()
}

func (m *Metrics) SinkFailed(channel string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) HandoffDropped(queue string) {
	if m == nil {
		return
	}
	m.handoffDropped.WithLabelValues(queue).Inc()
}

func (m *Metrics) FramePublished(address string) {
	if m == nil {
		return
	}
	m.framesPublished.WithLabelValues(address).Inc()
}

func (m *Metrics) ChannelStarted() {
	if m == nil {
		return
	}
	m.channelsActive.Inc()
}

func (m *Metrics) ChannelStopped() {
	if m == nil {
		return
	}
	m.channelsActive.Dec()
}
