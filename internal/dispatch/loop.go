package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
)

var (
	// ErrLoopClosed is returned when posting to a loop that has been closed.
	ErrLoopClosed = errors.New("loop closed")
	// ErrLoopRunning is returned by Run when another goroutine already drains the loop.
	ErrLoopRunning = errors.New("loop already running")
)

const defaultLoopCapacity = 16

// LoopConfig configures a Loop.
type LoopConfig struct {
	Name     string
	Capacity int
	Logger   logging.Logger
	Metrics  *metrics.Metrics
}

// Loop is a consumer-side execution context: tasks posted from any
// goroutine run one at a time, in posting order, on whichever goroutine
// calls Run. The queue is bounded and a full queue discards its oldest
// task, so a stalled consumer sees fresh data when it catches up instead
// of a backlog.
type Loop struct {
	name    string
	tasks   chan func()
	done    chan struct{}
	once    sync.Once
	running atomic.Bool
	dropped atomic.Uint64
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewLoop builds a loop; nothing runs until Run is called.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultLoopCapacity
	}
	if cfg.Name == "" {
		cfg.Name = "loop"
	}
	return &Loop{
		name:    cfg.Name,
		tasks:   make(chan func(), cfg.Capacity),
		done:    make(chan struct{}),
		logger:  logging.OrDefault(cfg.Logger).With(logging.F("subsystem", "loop"), logging.F("loop", cfg.Name)),
		metrics: cfg.Metrics,
	}
}

// Name returns the loop label.
func (l *Loop) Name() string { return l.name }

// Post schedules fn without blocking. It reports false once the loop is
// closed.
func (l *Loop) Post(fn func()) bool {
	for {
		select {
		case <-l.done:
			return false
		default:
		}
		select {
		case l.tasks <- fn:
			return true
		default:
		}
		select {
		case <-l.tasks:
			l.dropped.Add(1)
			l.metrics.HandoffDropped(l.name)
		default:
		}
	}
}

// Run drains tasks on the calling goroutine until ctx is cancelled or the
// loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", logging.F("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// Close stops the loop. Pending tasks are discarded.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Dropped returns how many tasks were discarded because the queue was full.
func (l *Loop) Dropped() uint64 { return l.dropped.Load() }

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int { return len(l.tasks) }

type queuedSink struct {
	loop *Loop
	sink Sink
	name string
}

// Queued returns a Sink that hands each block to s on loop's goroutine.
// Consume returns as soon as the block is queued; s never runs
// concurrently with itself and sees blocks in the order they were queued.
// Errors from s are logged by the loop.
func Queued(loop *Loop, s Sink) Sink {
	return &queuedSink{loop: loop, sink: s, name: sinkName(s)}
}

func (q *queuedSink) Name() string {
	if q.name == "" {
		return q.loop.name
	}
	return q.loop.name + "/" + q.name
}

func (q *queuedSink) Consume(b frame.Block) error {
	ok := q.loop.Post(func() {
		if err := invoke(q.sink, b); err != nil {
			q.loop.logger.Warn("queued sink failed", logging.F("sink", q.name), logging.Err(err))
		}
	})
	if !ok {
		return ErrLoopClosed
	}
	return nil
}

// QueuedSink is a Sink with its own private loop goroutine.
type QueuedSink struct {
	Sink
	loop *Loop
	wg   sync.WaitGroup
}

// Detached starts a private loop for s and returns the queued sink. Close
// stops the goroutine.
func Detached(cfg LoopConfig, s Sink) *QueuedSink {
	if cfg.Name == "" {
		cfg.Name = sinkName(s)
	}
	loop := NewLoop(cfg)
	qs := &QueuedSink{Sink: Queued(loop, s), loop: loop}
	qs.wg.Add(1)
	go func() {
		defer qs.wg.Done()
		_ = loop.Run(context.Background())
	}()
	return qs
}

// Name forwards to the wrapped queued sink.
func (q *QueuedSink) Name() string { return sinkName(q.Sink) }

// Loop exposes the private loop, mainly for its drop counter.
func (q *QueuedSink) Loop() *Loop { return q.loop }

// Close stops the loop goroutine and waits for it to exit.
func (q *QueuedSink) Close() error {
	q.loop.Close()
	q.wg.Wait()
	return nil
}
