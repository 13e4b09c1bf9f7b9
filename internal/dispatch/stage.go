package dispatch

import (
	"sync/atomic"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
)

// StageStats counts what a Stage has processed.
type StageStats struct {
	Received     uint64
	Malformed    uint64
	Delivered    uint64
	SinkFailures uint64
}

// Stage decodes raw channel messages and dispatches the resulting blocks.
type Stage struct {
	channel    string
	codec      frame.Codec
	dispatcher *Dispatcher
	logger     logging.Logger
	metrics    *metrics.Metrics

	received     atomic.Uint64
	malformed    atomic.Uint64
	delivered    atomic.Uint64
	sinkFailures atomic.Uint64
}

// NewStage binds a codec to a dispatcher for one channel.
func NewStage(channel string, codec frame.Codec, d *Dispatcher, logger logging.Logger, m *metrics.Metrics) *Stage {
	return &Stage{
		channel:    channel,
		codec:      codec,
		dispatcher: d,
		logger:     logging.OrDefault(logger).With(logging.F("subsystem", "stage"), logging.F("channel", channel)),
		metrics:    m,
	}
}

// Handle decodes msg and dispatches it. A malformed message is counted,
// logged and dropped; the returned error is informational only.
func (s *Stage) Handle(msg []byte) error {
	s.received.Add(1)
	s.metrics.FrameReceived(s.channel, len(msg))

	b, err := s.codec.Decode(msg)
	if err != nil {
		s.malformed.Add(1)
		s.metrics.FrameMalformed(s.channel)
		s.logger.Warn("dropping malformed frame", logging.F("bytes", len(msg)), logging.F("type", s.codec.Type.String()), logging.Err(err))
		return err
	}

	errs := s.dispatcher.Dispatch(b)
	s.delivered.Add(1)
	s.sinkFailures.Add(uint64(len(errs)))
	return nil
}

// Stats returns a snapshot of the stage counters.
func (s *Stage) Stats() StageStats {
	return StageStats{
		Received:     s.received.Load(),
		Malformed:    s.malformed.Load(),
		Delivered:    s.delivered.Load(),
		SinkFailures: s.sinkFailures.Load(),
	}
}
