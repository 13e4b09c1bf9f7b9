package dispatch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rjboer/sdrstream/internal/frame"
)

// ErrSinkFailure marks an error returned, or a panic raised, by a sink.
var ErrSinkFailure = errors.New("sink failure")

// Sink consumes decoded blocks. The block's backing slice is shared by all
// sinks of a channel and must be treated as read-only.
type Sink interface {
	Consume(b frame.Block) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(b frame.Block) error

func (f SinkFunc) Consume(b frame.Block) error { return f(b) }

// Named sinks report a label used in logs.
type Named interface {
	Name() string
}

// SinkID identifies one registration on a dispatcher.
type SinkID uuid.UUID

func (id SinkID) String() string { return uuid.UUID(id).String() }

// SinkError wraps a failure of a single sink during dispatch.
type SinkError struct {
	ID   SinkID
	Name string
	Err  error
}

func (e *SinkError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("sink %s (%s): %v", e.Name, e.ID, e.Err)
	}
	return fmt.Sprintf("sink %s: %v", e.ID, e.Err)
}

func (e *SinkError) Unwrap() []error { return []error{ErrSinkFailure, e.Err} }

func sinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return ""
}

// invoke runs one sink, turning a panic into an error so a misbehaving
// consumer cannot take down the goroutine that calls it.
func invoke(s Sink, b frame.Block) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Consume(b)
}
