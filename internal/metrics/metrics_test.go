package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersPerChannel(t *testing.T) {
	m := New()
	m.FrameReceived("time", 8192)
	m.FrameReceived("time", 8192)
	m.FrameReceived("freq", 100)
	m.FrameMalformed("time")
	m.SinkFailed("freq")
	m.HandoffDropped("plot")
	m.FramePublished("tcp://127.0.0.1:5555")
	m.ChannelStarted()
	m.ChannelStarted()
	m.ChannelStopped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("time")))
	assert.Equal(t, 16384.0, testutil.ToFloat64(m.bytesReceived.WithLabelValues("time")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesMalformed.WithLabelValues("time")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkFailures.WithLabelValues("freq")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handoffDropped.WithLabelValues("plot")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesPublished.WithLabelValues("tcp://127.0.0.1:5555")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelsActive))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sdrstream_frames_received_total"])
	assert.True(t, names["go_goroutines"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FrameReceived("x", 1)
		m.FrameMalformed("x")
		m.SinkFailed("x")
		m.HandoffDropped("x")
		m.FramePublished("x")
		m.ChannelStarted()
		m.ChannelStopped()
	})
	assert.Nil(t, m.Registry())
}
