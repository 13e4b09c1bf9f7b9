package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/router"
	"github.com/rjboer/sdrstream/internal/sdr"
	"github.com/rjboer/sdrstream/internal/transport"
)

var addrSeq atomic.Int64

func inprocAddr() string {
	return fmt.Sprintf("inproc://pump-test-%d", addrSeq.Add(1))
}

// countingSource emits int16 blocks holding the read number.
type countingSource struct {
	reads atomic.Int64
	fail  error
}

func (s *countingSource) Read(ctx context.Context) (frame.Block, error) {
	if err := ctx.Err(); err != nil {
		return frame.Block{}, err
	}
	if s.fail != nil {
		return frame.Block{}, s.fail
	}
	n := s.reads.Add(1)
	return frame.Of([]int16{int16(n), int16(n), int16(n), int16(n)}), nil
}

func (s *countingSource) Close() error { return nil }

type blocks struct {
	mu  sync.Mutex
	got []frame.Block
}

func (b *blocks) Consume(blk frame.Block) error {
	b.mu.Lock()
	b.got = append(b.got, blk)
	b.mu.Unlock()
	return nil
}

func (b *blocks) all() []frame.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]frame.Block(nil), b.got...)
}

func TestPumpPublishesBlocksAndSpectra(t *testing.T) {
	tctx := transport.NewContext(transport.DefaultOptions(), nil)
	raw, spectral := inprocAddr(), inprocAddr()
	src := &countingSource{}
	m := metrics.New()
	pump := NewPump(tctx, Config{
		Address:         raw,
		SpectralAddress: spectral,
		SampleRate:      4,
		Interval:        2 * time.Millisecond,
		WarmupBlocks:    3,
	}, src, nil, m)
	require.NoError(t, pump.Init(context.Background()))

	r := router.New(tctx)
	defer r.Close()
	timeSink, freqSink := &blocks{}, &blocks{}
	_, err := r.RegisterConsumer("time", timeSink)
	require.NoError(t, err)
	_, err = r.RegisterConsumer("freq", freqSink)
	require.NoError(t, err)
	require.NoError(t, r.AddChannel(router.Descriptor{Name: "time", Address: raw, Type: frame.Int16, Role: router.RoleTime}))
	require.NoError(t, r.AddChannel(router.Descriptor{Name: "freq", Address: spectral, Type: frame.Float64, Role: router.RoleFrequency}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(timeSink.all()) > 2 && len(freqSink.all()) > 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	for _, b := range timeSink.all() {
		v, ok := frame.Values[int16](b)
		require.True(t, ok)
		assert.Greater(t, v[0], int16(3), "warm-up block was published")
	}
	for _, b := range freqSink.all() {
		assert.Equal(t, frame.Float64, b.Type)
		assert.Equal(t, 3, b.Len())
	}

	st := pump.Stats()
	assert.Equal(t, st.Published, st.SpectraPublished)
	assert.Equal(t, int64(3)+int64(st.Published), src.reads.Load())
	assert.Zero(t, st.PublishErrors)

	// Only the router's subscribers remain.
	assert.Equal(t, 2, tctx.Live())
}

func TestPumpBindFailureReleasesEndpoints(t *testing.T) {
	tctx := transport.NewContext(transport.DefaultOptions(), nil)
	pump := NewPump(tctx, Config{Address: inprocAddr(), SpectralAddress: "bogus", SampleRate: 1}, &countingSource{}, nil, nil)
	err := pump.Run(context.Background())
	require.ErrorIs(t, err, transport.ErrBind)
	assert.Zero(t, tctx.Live())

	pump = NewPump(tctx, Config{Address: "udp://127.0.0.1:9"}, &countingSource{}, nil, nil)
	require.ErrorIs(t, pump.Init(context.Background()), transport.ErrBind)
}

func TestPumpRejectsBadSampleRateForSpectra(t *testing.T) {
	pump := NewPump(transport.NewContext(transport.DefaultOptions(), nil), Config{Address: inprocAddr(), SpectralAddress: inprocAddr()}, &countingSource{}, nil, nil)
	assert.Error(t, pump.Init(context.Background()))
}

func TestPumpStopsOnSourceError(t *testing.T) {
	tctx := transport.NewContext(transport.DefaultOptions(), nil)
	boom := errors.New("device gone")
	pump := NewPump(tctx, Config{Address: inprocAddr(), Interval: time.Millisecond}, &countingSource{fail: boom}, nil, nil)
	err := pump.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, tctx.Live())
}

func TestPumpWithSineSource(t *testing.T) {
	tctx := transport.NewContext(transport.DefaultOptions(), nil)
	src := sdr.NewSine(sdr.Config{NumSamples: 64})
	pump := NewPump(tctx, Config{Address: inprocAddr(), Interval: time.Millisecond}, src, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pump.Run(ctx), context.DeadlineExceeded)
	assert.Positive(t, pump.Stats().Published)
}
