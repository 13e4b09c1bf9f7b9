package sdr

import (
	"context"
	"math"
	"sync"

	"github.com/rjboer/sdrstream/internal/frame"
)

const fullScale = math.MaxInt16

// SineSource emits int16 blocks of a real tone. Phase carries over from
// one block to the next.
type SineSource struct {
	cfg Config

	mu     sync.Mutex
	n      uint64
	closed bool
}

// NewSine defaults to 4086 samples at 30.72 MS/s, a 500 kHz tone and full
// int16 scale.
func NewSine(cfg Config) *SineSource {
	cfg = withDefaults(cfg, 4086)
	if cfg.ToneHz == 0 {
		cfg.ToneHz = 500e3
	}
	if cfg.Amplitude <= 0 || cfg.Amplitude > fullScale {
		cfg.Amplitude = fullScale
	}
	return &SineSource{cfg: cfg}
}

func (s *SineSource) Read(ctx context.Context) (frame.Block, error) {
	if err := ctx.Err(); err != nil {
		return frame.Block{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return frame.Block{}, ErrSourceClosed
	}
	step := 2 * math.Pi * s.cfg.ToneHz / s.cfg.SampleRate
	out := make([]int16, s.cfg.NumSamples)
	for i := range out {
		out[i] = int16(math.Round(s.cfg.Amplitude * math.Sin(step*float64(s.n))))
		s.n++
	}
	return frame.Of(out), nil
}

func (s *SineSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
