package transport

import (
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/singleflight"

	"github.com/rjboer/sdrstream/internal/logging"
)

// Publisher is a send-only endpoint. Publish never waits for subscribers
// and never reports whether anyone received the message.
type Publisher interface {
	Publish(data []byte) error
	Address() string
	Close() error
}

// Subscriber is a receive-only endpoint subscribed to every topic. Receive
// blocks until a message arrives; Close from another goroutine makes a
// pending Receive return ErrEndpointClosed.
type Subscriber interface {
	Receive() ([]byte, error)
	Address() string
	Close() error
}

// Options tune the queues between the transport and the pipeline. Queues
// are bounded, and what a full receive queue discards depends on the
// backend: mangos (tcp, ipc, inproc) evicts the oldest pending message to
// make room, NATS drops the newest incoming message and reports the
// subscriber as slow. Either way the subscriber never sees messages out
// of order.
type Options struct {
	// RecvQueue is the per-subscriber receive queue length in messages.
	RecvQueue int
	// SendQueue is the per-peer send queue length of a publisher.
	SendQueue int
	// DialAsync lets a subscriber start before its publisher is bound.
	DialAsync bool
	// ClientName identifies NATS connections on the server.
	ClientName string
}

// DefaultOptions mirrors the queue depth used by the live telemetry hub.
func DefaultOptions() Options {
	return Options{RecvQueue: 16, SendQueue: 16, ClientName: "sdrstream"}
}

type endpoint interface {
	Close() error
}

type sharedConn struct {
	nc   *nats.Conn
	refs int
}

// Context is the process-wide transport state shared by all endpoints. It
// comes up with the first endpoint and is torn down when the last one
// closes; it is passed explicitly to everything that opens endpoints.
type Context struct {
	mu        sync.Mutex
	opts      Options
	logger    logging.Logger
	endpoints map[endpoint]struct{}
	conns     map[string]*sharedConn
	dials     singleflight.Group
	pending   int
	active    bool
	inits     int
}

// NewContext builds an idle transport context.
func NewContext(opts Options, logger logging.Logger) *Context {
	def := DefaultOptions()
	if opts.RecvQueue <= 0 {
		opts.RecvQueue = def.RecvQueue
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	if opts.ClientName == "" {
		opts.ClientName = def.ClientName
	}
	return &Context{
		opts:      opts,
		logger:    logging.OrDefault(logger).With(logging.F("subsystem", "transport")),
		endpoints: make(map[endpoint]struct{}),
		conns:     make(map[string]*sharedConn),
	}
}

var (
	defaultOnce sync.Once
	defaultCtx  *Context
)

// Default returns the shared process context with default options.
func Default() *Context {
	defaultOnce.Do(func() {
		defaultCtx = NewContext(DefaultOptions(), nil)
	})
	return defaultCtx
}

// Options returns the effective options.
func (c *Context) Options() Options { return c.opts }

// Publish binds a publisher endpoint on address.
func (c *Context) Publish(address string) (Publisher, error) {
	scheme, err := ParseScheme(address)
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}
	c.begin()
	var p Publisher
	if scheme == SchemeNATS {
		p, err = c.bindNATS(address)
	} else {
		p, err = c.bindMangos(address)
	}
	if err != nil {
		c.abort()
		c.logger.Warn("bind failed", logging.F("address", address), logging.Err(err))
		return nil, err
	}
	c.track(p, "publisher", address)
	return p, nil
}

// Subscribe connects a subscriber endpoint to address.
func (c *Context) Subscribe(address string) (Subscriber, error) {
	scheme, err := ParseScheme(address)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}
	c.begin()
	var s Subscriber
	if scheme == SchemeNATS {
		s, err = c.connectNATS(address)
	} else {
		s, err = c.connectMangos(address)
	}
	if err != nil {
		c.abort()
		c.logger.Warn("connect failed", logging.F("address", address), logging.Err(err))
		return nil, err
	}
	c.track(s, "subscriber", address)
	return s, nil
}

// Live returns the number of open endpoints.
func (c *Context) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.endpoints)
}

// Active reports whether the context currently holds resources.
func (c *Context) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close tears down every endpoint still open.
func (c *Context) Close() error {
	c.mu.Lock()
	open := make([]endpoint, 0, len(c.endpoints))
	for ep := range c.endpoints {
		open = append(open, ep)
	}
	c.mu.Unlock()

	var errs []error
	for _, ep := range open {
		if err := ep.Close(); err != nil && !errors.Is(err, ErrEndpointClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Inits counts how many times the context has come up from idle.
func (c *Context) Inits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

func (c *Context) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending++
	if !c.active {
		c.active = true
		c.inits++
		c.logger.Debug("transport context initialised")
	}
}

func (c *Context) track(ep endpoint, role, address string) {
	c.mu.Lock()
	c.pending--
	c.endpoints[ep] = struct{}{}
	c.mu.Unlock()
	c.logger.Debug("endpoint opened", logging.F("role", role), logging.F("address", address))
}

// abort undoes begin when endpoint creation failed.
func (c *Context) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
	c.maybeTeardownLocked()
}

func (c *Context) release(ep endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[ep]; !ok {
		return
	}
	delete(c.endpoints, ep)
	c.maybeTeardownLocked()
}

func (c *Context) maybeTeardownLocked() {
	if len(c.endpoints) > 0 || c.pending > 0 {
		return
	}
	for url, sc := range c.conns {
		sc.nc.Close()
		delete(c.conns, url)
	}
	if c.active {
		c.active = false
		c.logger.Debug("transport context terminated")
	}
}
