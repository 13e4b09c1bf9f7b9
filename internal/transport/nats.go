package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const natsConnectTimeout = 2 * time.Second

// acquireConn returns the shared connection for server, dialling it on
// first use. The dial runs outside the context lock so a slow server holds
// up only the endpoints that need it; concurrent callers for the same
// server share one dial.
func (c *Context) acquireConn(server string) (*nats.Conn, error) {
	for {
		c.mu.Lock()
		if sc, ok := c.conns[server]; ok && !sc.nc.IsClosed() {
			sc.refs++
			c.mu.Unlock()
			return sc.nc, nil
		}
		c.mu.Unlock()

		_, err, _ := c.dials.Do(server, func() (any, error) {
			nc, err := nats.Connect(server,
				nats.Name(c.opts.ClientName),
				nats.Timeout(natsConnectTimeout),
				nats.NoCallbacksAfterClientClose(),
			)
			if err != nil {
				return nil, err
			}
			// Callers take their reference on the next pass; pending
			// endpoints keep teardown from closing it meanwhile.
			c.mu.Lock()
			c.conns[server] = &sharedConn{nc: nc}
			c.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
	}
}

func (c *Context) releaseConn(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.conns[server]
	if !ok {
		return
	}
	sc.refs--
	if sc.refs <= 0 {
		sc.nc.Close()
		delete(c.conns, server)
	}
}

// natsPublisher publishes on one subject of a shared NATS connection. Core
// NATS is at-most-once: a subscriber that is absent or slow simply misses
// messages.
type natsPublisher struct {
	owner   *Context
	address string
	server  string
	subject string
	nc      *nats.Conn
	closed  atomic.Bool
	once    sync.Once
}

func (c *Context) bindNATS(address string) (Publisher, error) {
	server, subject, err := splitNATS(address)
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}
	nc, err := c.acquireConn(server)
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}
	return &natsPublisher{owner: c, address: address, server: server, subject: subject, nc: nc}, nil
}

func (p *natsPublisher) Publish(data []byte) error {
	if p.closed.Load() {
		return ErrEndpointClosed
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrEndpointClosed
		}
		return fmt.Errorf("publish %s: %w", p.address, err)
	}
	return nil
}

func (p *natsPublisher) Address() string { return p.address }

func (p *natsPublisher) Close() error {
	err := ErrEndpointClosed
	p.once.Do(func() {
		p.closed.Store(true)
		err = nil
		if !p.nc.IsClosed() {
			err = p.nc.Flush()
			if errors.Is(err, nats.ErrConnectionClosed) {
				err = nil
			}
		}
		p.owner.releaseConn(p.server)
		p.owner.release(p)
	})
	return err
}

// natsSubscriber holds a synchronous subscription whose pending queue is
// limited to RecvQueue messages. Messages beyond that are discarded by the
// client library and surface as slow-consumer notices, which Receive skips.
type natsSubscriber struct {
	owner   *Context
	address string
	server  string
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	once    sync.Once
}

func (c *Context) connectNATS(address string) (Subscriber, error) {
	server, subject, err := splitNATS(address)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}
	nc, err := c.acquireConn(server)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}
	s, err := nc.SubscribeSync(subject)
	if err != nil {
		c.releaseConn(server)
		return nil, &ConnectError{Address: address, Err: err}
	}
	if err := s.SetPendingLimits(c.opts.RecvQueue, -1); err != nil {
		_ = s.Unsubscribe()
		c.releaseConn(server)
		return nil, &ConnectError{Address: address, Err: err}
	}
	// Make sure the server has registered interest before returning.
	if err := nc.Flush(); err != nil {
		_ = s.Unsubscribe()
		c.releaseConn(server)
		return nil, &ConnectError{Address: address, Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &natsSubscriber{
		owner:   c,
		address: address,
		server:  server,
		sub:     s,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *natsSubscriber) Receive() ([]byte, error) {
	for {
		if s.closed.Load() {
			return nil, ErrEndpointClosed
		}
		msg, err := s.sub.NextMsgWithContext(s.ctx)
		switch {
		case err == nil:
			return msg.Data, nil
		case errors.Is(err, nats.ErrSlowConsumer):
			continue
		case s.closed.Load(),
			errors.Is(err, context.Canceled),
			errors.Is(err, nats.ErrConnectionClosed),
			errors.Is(err, nats.ErrBadSubscription):
			return nil, ErrEndpointClosed
		default:
			return nil, fmt.Errorf("receive %s: %w", s.address, err)
		}
	}
}

func (s *natsSubscriber) Address() string { return s.address }

func (s *natsSubscriber) Close() error {
	err := ErrEndpointClosed
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
		s.owner.releaseConn(s.server)
		s.owner.release(s)
	})
	return err
}
