package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/transport"
)

var (
	ErrChannelExists  = errors.New("channel already exists")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrRouterClosed   = errors.New("router closed")
)

// Option customises a Router.
type Option func(*Router)

// WithLogger sets the logger used by the router and its channels.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics records channel activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router owns one subscriber and decode/dispatch stage per channel. Each
// channel receives on its own goroutine, so a stalled or failed channel
// never holds up another.
type Router struct {
	tctx    *transport.Context
	logger  logging.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	channels    map[string]*channel
	dispatchers map[string]*dispatch.Dispatcher
	closed      bool
}

// New builds a router that opens its subscribers on tctx.
func New(tctx *transport.Context, opts ...Option) *Router {
	r := &Router{
		tctx:        tctx,
		channels:    make(map[string]*channel),
		dispatchers: make(map[string]*dispatch.Dispatcher),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tctx == nil {
		r.tctx = transport.Default()
	}
	r.logger = logging.OrDefault(r.logger).With(logging.F("subsystem", "router"))
	return r
}

// dispatcherLocked returns the sink list for name, creating it so that
// consumers can register before the channel is added.
func (r *Router) dispatcherLocked(name string) *dispatch.Dispatcher {
	d, ok := r.dispatchers[name]
	if !ok {
		d = dispatch.NewDispatcher(name, r.logger, r.metrics)
		r.dispatchers[name] = d
	}
	return d
}

// AddChannel connects a subscriber for desc and starts its receive loop.
// A connect failure is returned to the caller and leaves every other
// channel untouched.
func (r *Router) AddChannel(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	codec, err := frame.NewCodec(desc.Type)
	if err != nil {
		return fmt.Errorf("channel %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if _, ok := r.channels[desc.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelExists, desc.Name)
	}
	// Reserve the name while connecting so a concurrent AddChannel with the
	// same name fails instead of opening a second subscriber.
	ch := newChannel(desc, r.logger)
	r.channels[desc.Name] = ch
	d := r.dispatcherLocked(desc.Name)
	r.mu.Unlock()

	sub, err := r.tctx.Subscribe(desc.Address)
	if err != nil {
		r.mu.Lock()
		delete(r.channels, desc.Name)
		r.mu.Unlock()
		ch.logger.Error("channel failed to start", logging.Err(err))
		return fmt.Errorf("channel %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	if r.closed {
		delete(r.channels, desc.Name)
		r.mu.Unlock()
		_ = sub.Close()
		return ErrRouterClosed
	}
	ch.sub = sub
	ch.stage = dispatch.NewStage(desc.Name, codec, d, r.logger, r.metrics)
	r.mu.Unlock()
	ch.setState(StateConnected, nil)
	r.metrics.ChannelStarted()
	ch.logger.Info("channel connected", logging.F("address", desc.Address), logging.F("type", desc.Type.String()), logging.F("role", string(desc.Role)))

	go func() {
		defer r.metrics.ChannelStopped()
		ch.run()
	}()
	return nil
}

// RegisterConsumer appends s to the sink list of the named channel. The
// channel does not have to exist yet; the sink sees blocks decoded after
// this call returns and nothing earlier.
func (r *Router) RegisterConsumer(name string, s dispatch.Sink) (dispatch.SinkID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return dispatch.SinkID{}, ErrRouterClosed
	}
	return r.dispatcherLocked(name).Register(s), nil
}

// RemoveConsumer unregisters a sink. It reports whether it was found.
func (r *Router) RemoveConsumer(name string, id dispatch.SinkID) bool {
	r.mu.Lock()
	d, ok := r.dispatchers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return d.Remove(id)
}

// RemoveChannel closes the channel's subscriber, waits for its receive
// loop to exit and drops its sink list.
func (r *Router) RemoveChannel(name string) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	ok = ok && ch.sub != nil
	if ok {
		delete(r.channels, name)
		delete(r.dispatchers, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	ch.stop()
	return nil
}

// Wait blocks until the named channel's receive loop exits and returns the
// error that ended it, or nil after a normal close.
func (r *Router) Wait(name string) error {
	r.mu.Lock()
	ch, ok := r.channels[name]
	ok = ok && ch.sub != nil
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	<-ch.done
	_, err := ch.status()
	return err
}

// Channels reports every running channel, sorted by name.
func (r *Router) Channels() []ChannelStatus {
	r.mu.Lock()
	out := make([]ChannelStatus, 0, len(r.channels))
	for name, ch := range r.channels {
		if ch.sub == nil {
			continue
		}
		out = append(out, ch.snapshot(r.dispatchers[name]))
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Channel reports one channel.
func (r *Router) Channel(name string) (ChannelStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok || ch.sub == nil {
		return ChannelStatus{}, false
	}
	return ch.snapshot(r.dispatchers[name]), true
}

// Close tears down every channel and waits for the receive loops to exit.
// Closed channels stay visible to Channels and Wait; further calls to
// AddChannel and RegisterConsumer fail.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	open := make([]*channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.sub != nil {
			open = append(open, ch)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, ch := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.stop()
		}()
	}
	wg.Wait()
	r.logger.Info("router closed", logging.F("channels", len(open)))
	return nil
}
