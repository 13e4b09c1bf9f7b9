package router

import (
	"errors"
	"sync"
	"time"

	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/transport"
)

// State is the lifecycle position of a channel's receive loop.
type State int

const (
	StateConnected State = iota + 1
	StateReceiving
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Descriptor
	State        State     `json:"state"`
	Sinks        int       `json:"sinks"`
	Received     uint64    `json:"received"`
	Malformed    uint64    `json:"malformed"`
	Delivered    uint64    `json:"delivered"`
	SinkFailures uint64    `json:"sink_failures"`
	LastMessage  time.Time `json:"last_message,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type channel struct {
	desc   Descriptor
	logger logging.Logger
	sub    transport.Subscriber
	stage  *dispatch.Stage
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
	last  time.Time
}

func newChannel(desc Descriptor, logger logging.Logger) *channel {
	return &channel{
		desc:   desc,
		logger: logger.With(logging.F("channel", desc.Name)),
		done:   make(chan struct{}),
	}
}

func (c *channel) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.err = err
	c.mu.Unlock()
}

func (c *channel) status() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// run is the receive loop. It blocks in Receive between messages and
// returns once the subscriber is closed or fails.
func (c *channel) run() {
	defer close(c.done)
	for {
		msg, err := c.sub.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrEndpointClosed) {
				c.setState(StateClosed, nil)
				c.logger.Info("channel closed")
				return
			}
			c.setState(StateFailed, err)
			c.logger.Error("channel receive failed", logging.Err(err))
			_ = c.sub.Close()
			return
		}

		c.mu.Lock()
		c.state = StateReceiving
		c.last = time.Now()
		c.mu.Unlock()

		// Malformed frames are counted and logged by the stage.
		_ = c.stage.Handle(msg)
	}
}

// stop closes the subscriber, which unblocks Receive, and waits for the
// loop to finish.
func (c *channel) stop() {
	if err := c.sub.Close(); err != nil && !errors.Is(err, transport.ErrEndpointClosed) {
		c.logger.Warn("closing subscriber", logging.Err(err))
	}
	<-c.done
}

func (c *channel) snapshot(d *dispatch.Dispatcher) ChannelStatus {
	stats := c.stage.Stats()
	c.mu.Lock()
	st := ChannelStatus{
		Descriptor:   c.desc,
		State:        c.state,
		Received:     stats.Received,
		Malformed:    stats.Malformed,
		Delivered:    stats.Delivered,
		SinkFailures: stats.SinkFailures,
		LastMessage:  c.last,
	}
	if c.err != nil {
		st.Error = c.err.Error()
	}
	c.mu.Unlock()
	if d != nil {
		st.Sinks = d.Len()
	}
	return st
}
