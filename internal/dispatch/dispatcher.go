package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
)

type entry struct {
	id   SinkID
	name string
	sink Sink
}

// Dispatcher holds the ordered sink list of one channel. Registration
// replaces the list rather than mutating it, so a dispatch in progress
// keeps iterating the snapshot it started with.
type Dispatcher struct {
	channel string
	logger  logging.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	sinks []entry
}

// NewDispatcher builds an empty dispatcher for channel.
func NewDispatcher(channel string, logger logging.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		logger:  logging.OrDefault(logger).With(logging.F("subsystem", "dispatch"), logging.F("channel", channel)),
		metrics: m,
	}
}

// Register appends s to the sink list. It takes effect from the next
// dispatched block.
func (d *Dispatcher) Register(s Sink) SinkID {
	id := SinkID(uuid.New())
	d.mu.Lock()
	next := make([]entry, len(d.sinks), len(d.sinks)+1)
	copy(next, d.sinks)
	d.sinks = append(next, entry{id: id, name: sinkName(s), sink: s})
	d.mu.Unlock()
	d.logger.Debug("sink registered", logging.F("sink_id", id.String()), logging.F("sink", sinkName(s)))
	return id
}

// Remove drops the registration with the given id.
func (d *Dispatcher) Remove(id SinkID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.sinks {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(d.sinks)-1)
		next = append(next, d.sinks[:i]...)
		next = append(next, d.sinks[i+1:]...)
		d.sinks = next
		return true
	}
	return false
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

func (d *Dispatcher) snapshot() []entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sinks
}

// Dispatch hands b to every sink in registration order on the calling
// goroutine. A failing sink is logged and skipped; the returned slice holds
// one *SinkError per failure.
func (d *Dispatcher) Dispatch(b frame.Block) []error {
	var errs []error
	for _, e := range d.snapshot() {
		if err := invoke(e.sink, b); err != nil {
			serr := &SinkError{ID: e.id, Name: e.name, Err: err}
			d.metrics.SinkFailed(d.channel)
			d.logger.Warn("sink failed", logging.F("sink_id", e.id.String()), logging.F("sink", e.name), logging.Err(err))
			errs = append(errs, serr)
		}
	}
	return errs
}
