package telemetry

import (
	"math"

	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
)

// LogSink logs a one-line summary of every block it receives.
type LogSink struct {
	logger  logging.Logger
	channel string
}

// NewLogSink builds a summary logger for channel.
func NewLogSink(logger logging.Logger, channel string) LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return LogSink{logger: logger.With(logging.F("subsystem", "telemetry")), channel: channel}
}

func (s LogSink) Name() string { return "log/" + s.channel }

func (s LogSink) Consume(b frame.Block) error {
	fields := []logging.Field{
		logging.F("channel", s.channel),
		logging.F("type", b.Type.String()),
		logging.F("len", b.Len()),
	}
	if b.Len() > 0 {
		lo, hi, rms := summarize(b)
		fields = append(fields,
			logging.F("min", lo),
			logging.F("max", hi),
			logging.F("rms", rms),
		)
	}
	s.logger.Info("block", fields...)
	return nil
}

var _ dispatch.Sink = LogSink{}

// summarize returns min and max of the real part and the RMS magnitude.
func summarize(b frame.Block) (lo, hi, rms float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, c := range b.Complex() {
		re := real(c)
		lo = math.Min(lo, re)
		hi = math.Max(hi, re)
		sum += re*re + imag(c)*imag(c)
	}
	return lo, hi, math.Sqrt(sum / float64(b.Len()))
}
