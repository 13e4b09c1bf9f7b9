package sdr

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/rjboer/sdrstream/internal/frame"
)

// IQSource synthesizes a complex tone with a little gaussian noise.
type IQSource struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	closed bool
}

// NewIQ defaults to 1024 samples at 2 MS/s with a 200 kHz tone.
func NewIQ(cfg Config) *IQSource {
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = 1024
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 2e6
	}
	if cfg.ToneHz == 0 {
		cfg.ToneHz = 200e3
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 1
	}
	return &IQSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (m *IQSource) Read(ctx context.Context) (frame.Block, error) {
	if err := ctx.Err(); err != nil {
		return frame.Block{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return frame.Block{}, ErrSourceClosed
	}
	cfg := m.cfg

	samples := make([]complex64, cfg.NumSamples)
	phaseStep := 2 * math.Pi * cfg.ToneHz / cfg.SampleRate
	for i := range samples {
		phase := phaseStep * float64(i)
		noise := complex(m.rng.NormFloat64()*1e-4, m.rng.NormFloat64()*1e-4)
		samples[i] = complex64(complex(cfg.Amplitude*math.Cos(phase), cfg.Amplitude*math.Sin(phase)) + noise)
	}
	return frame.Of(samples), nil
}

func (m *IQSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
