package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrEndpointClosed is returned by Receive and Publish once the endpoint
	// has been torn down, including a Receive that was pending at the time.
	ErrEndpointClosed = errors.New("endpoint closed")
	// ErrBind marks failures to establish a publisher endpoint.
	ErrBind = errors.New("bind failed")
	// ErrConnect marks failures to establish a subscriber endpoint.
	ErrConnect = errors.New("connect failed")
	// ErrUnsupportedScheme is returned for addresses no backend understands.
	ErrUnsupportedScheme = errors.New("unsupported transport scheme")
)

// BindError reports a publisher that could not be bound to its address.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() []error { return []error{ErrBind, e.Err} }

// ConnectError reports a subscriber that could not connect to its address.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnect, e.Err} }
