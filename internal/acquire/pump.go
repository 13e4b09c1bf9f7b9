// Package acquire runs the acquisition side of the pipeline: it reads
// blocks from a sample source and publishes them, optionally with their
// power spectrum on a second address.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/sdrstream/internal/dsp"
	"github.com/rjboer/sdrstream/internal/frame"
	"github.com/rjboer/sdrstream/internal/logging"
	"github.com/rjboer/sdrstream/internal/metrics"
	"github.com/rjboer/sdrstream/internal/sdr"
	"github.com/rjboer/sdrstream/internal/transport"
)

const defaultInterval = time.Second

// Config controls what the pump publishes and how often.
type Config struct {
	// Address receives the raw blocks.
	Address string
	// SpectralAddress, when set, receives the float64 power spectrum of
	// every block, computed before publishing.
	SpectralAddress string
	SampleRate      float64
	Interval        time.Duration
	// WarmupBlocks are read and discarded before publishing starts.
	WarmupBlocks int
	// ShiftSpectrum centres DC in two-sided spectra.
	ShiftSpectrum bool
}

// Stats counts pump activity.
type Stats struct {
	Published        uint64
	SpectraPublished uint64
	PublishErrors    uint64
}

// Pump moves blocks from a Source to publisher endpoints on a fixed
// interval. Publishing never waits for subscribers.
type Pump struct {
	tctx    *transport.Context
	cfg     Config
	src     sdr.Source
	logger  logging.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	pub  transport.Publisher
	spec transport.Publisher
	est  *dsp.Estimator

	published        atomic.Uint64
	spectraPublished atomic.Uint64
	publishErrors    atomic.Uint64
}

// NewPump wires a source to the transport; nothing is bound until Init or
// Run.
func NewPump(tctx *transport.Context, cfg Config, src sdr.Source, logger logging.Logger, m *metrics.Metrics) *Pump {
	if tctx == nil {
		tctx = transport.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Pump{
		tctx:    tctx,
		cfg:     cfg,
		src:     src,
		logger:  logging.OrDefault(logger).With(logging.F("subsystem", "pump"), logging.F("address", cfg.Address)),
		metrics: m,
	}
}

// Init binds the publisher endpoints. A bind failure on the spectral
// address releases the primary endpoint again.
func (p *Pump) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub != nil {
		return nil
	}
	if p.cfg.SpectralAddress != "" {
		est, err := dsp.NewEstimator(p.cfg.SampleRate, nil)
		if err != nil {
			return fmt.Errorf("spectral estimate: %w", err)
		}
		p.est = est
	}
	pub, err := p.tctx.Publish(p.cfg.Address)
	if err != nil {
		return err
	}
	if p.cfg.SpectralAddress != "" {
		spec, err := p.tctx.Publish(p.cfg.SpectralAddress)
		if err != nil {
			_ = pub.Close()
			return err
		}
		p.spec = spec
	}
	p.pub = pub
	p.logger.Info("pump bound", logging.F("spectral_address", p.cfg.SpectralAddress), logging.F("interval", p.cfg.Interval.String()))
	return nil
}

// Run publishes one block per interval until ctx is cancelled, then
// closes its endpoints. It returns ctx.Err() on cancellation and any
// source error otherwise.
func (p *Pump) Run(ctx context.Context) error {
	if err := p.Init(ctx); err != nil {
		return err
	}
	defer p.Close()

	if err := p.warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := p.step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pump) step(ctx context.Context) error {
	b, err := p.src.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read samples: %w", err)
	}
	if b.Len() == 0 {
		p.logger.Warn("source returned an empty block")
		return nil
	}

	data, err := frame.Encode(b)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := p.publish(p.pub, data); err != nil {
		return err
	}
	p.published.Add(1)

	if p.spec == nil {
		return nil
	}
	spectrum, err := dsp.SpectrumBlock(p.est, b, p.cfg.ShiftSpectrum)
	if err != nil {
		p.logger.Warn("spectral estimate failed", logging.Err(err))
		return nil
	}
	data, err = frame.Encode(spectrum)
	if err != nil {
		return fmt.Errorf("encode spectrum: %w", err)
	}
	if err := p.publish(p.spec, data); err != nil {
		return err
	}
	p.spectraPublished.Add(1)
	return nil
}

// publish sends one message. Only a closed endpoint stops the pump; other
// transport errors are logged and the block is lost.
func (p *Pump) publish(pub transport.Publisher, data []byte) error {
	err := pub.Publish(data)
	switch {
	case err == nil:
		p.metrics.FramePublished(pub.Address())
		return nil
	case errors.Is(err, transport.ErrEndpointClosed):
		return err
	default:
		p.publishErrors.Add(1)
		p.logger.Warn("publish failed", logging.F("address", pub.Address()), logging.Err(err))
		return nil
	}
}

func (p *Pump) warmup(ctx context.Context) error {
	for i := 0; i < p.cfg.WarmupBlocks; i++ {
		if _, err := p.src.Read(ctx); err != nil {
			return err
		}
	}
	if p.cfg.WarmupBlocks > 0 {
		p.logger.Debug("warmup complete", logging.F("blocks", p.cfg.WarmupBlocks))
	}
	return nil
}

// Close releases the publisher endpoints. The source stays open.
func (p *Pump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, pub := range []transport.Publisher{p.pub, p.spec} {
		if pub == nil {
			continue
		}
		if err := pub.Close(); err != nil && !errors.Is(err, transport.ErrEndpointClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() Stats {
	return Stats{
		Published:        p.published.Load(),
		SpectraPublished: p.spectraPublished.Load(),
		PublishErrors:    p.publishErrors.Load(),
	}
}
