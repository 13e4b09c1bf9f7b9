package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// tcp, ipc and inproc dialers/listeners
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// socketPublisher is a PUB socket listening on its address. The socket
// keeps a bounded send queue per connected subscriber and drops messages
// for peers that cannot keep up, so Publish never blocks.
type socketPublisher struct {
	owner   *Context
	address string
	sock    mangos.Socket
	closed  atomic.Bool
	once    sync.Once
}

func (c *Context) bindMangos(address string) (Publisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}
	if err := sock.SetOption(mangos.OptionWriteQLen, c.opts.SendQueue); err != nil {
		_ = sock.Close()
		return nil, &BindError{Address: address, Err: fmt.Errorf("send queue: %w", err)}
	}
	if err := sock.Listen(address); err != nil {
		_ = sock.Close()
		return nil, &BindError{Address: address, Err: err}
	}
	return &socketPublisher{owner: c, address: address, sock: sock}, nil
}

func (p *socketPublisher) Publish(data []byte) error {
	if p.closed.Load() {
		return ErrEndpointClosed
	}
	if err := p.sock.Send(data); err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return ErrEndpointClosed
		}
		return fmt.Errorf("publish %s: %w", p.address, err)
	}
	return nil
}

func (p *socketPublisher) Address() string { return p.address }

func (p *socketPublisher) Close() error {
	err := ErrEndpointClosed
	p.once.Do(func() {
		p.closed.Store(true)
		err = p.sock.Close()
		if errors.Is(err, mangos.ErrClosed) {
			err = nil
		}
		p.owner.release(p)
	})
	return err
}

// socketSubscriber is a SUB socket dialled to its address with an empty
// subscription. The socket's receive queue is bounded; once full the
// oldest message is discarded in favour of the newest.
type socketSubscriber struct {
	owner   *Context
	address string
	sock    mangos.Socket
	closed  atomic.Bool
	once    sync.Once
}

func (c *Context) connectMangos(address string) (Subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}
	fail := func(err error) (Subscriber, error) {
		_ = sock.Close()
		return nil, &ConnectError{Address: address, Err: err}
	}
	if err := sock.SetOption(mangos.OptionReadQLen, c.opts.RecvQueue); err != nil {
		return fail(fmt.Errorf("receive queue: %w", err))
	}
	if err := sock.SetOption(mangos.OptionDialAsynch, c.opts.DialAsync); err != nil {
		return fail(fmt.Errorf("dial mode: %w", err))
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte{}); err != nil {
		return fail(fmt.Errorf("subscribe: %w", err))
	}
	if err := sock.Dial(address); err != nil {
		return fail(err)
	}
	return &socketSubscriber{owner: c, address: address, sock: sock}, nil
}

func (s *socketSubscriber) Receive() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrEndpointClosed
	}
	data, err := s.sock.Recv()
	if err != nil {
		if s.closed.Load() || errors.Is(err, mangos.ErrClosed) {
			return nil, ErrEndpointClosed
		}
		return nil, fmt.Errorf("receive %s: %w", s.address, err)
	}
	return data, nil
}

func (s *socketSubscriber) Address() string { return s.address }

func (s *socketSubscriber) Close() error {
	err := ErrEndpointClosed
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.sock.Close()
		if errors.Is(err, mangos.ErrClosed) {
			err = nil
		}
		s.owner.release(s)
	})
	return err
}
