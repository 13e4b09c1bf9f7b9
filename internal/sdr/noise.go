package sdr

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rjboer/sdrstream/internal/frame"
)

// NoiseSource emits float64 blocks of uniform noise in [0, 1).
type NoiseSource struct {
	cfg Config

	mu     sync.Mutex
	rng    *rand.Rand
	closed bool
}

// NewNoise defaults to 100 samples per block.
func NewNoise(cfg Config) *NoiseSource {
	cfg = withDefaults(cfg, 100)
	return &NoiseSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (s *NoiseSource) Read(ctx context.Context) (frame.Block, error) {
	if err := ctx.Err(); err != nil {
		return frame.Block{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return frame.Block{}, ErrSourceClosed
	}
	out := make([]float64, s.cfg.NumSamples)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return frame.Of(out), nil
}

func (s *NoiseSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
