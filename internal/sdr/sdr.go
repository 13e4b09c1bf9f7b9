// Package sdr provides the acquisition-side sample sources. Real radio
// front ends are driven elsewhere; the sources here synthesise the signals
// used for bench testing the pipeline without hardware.
package sdr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rjboer/sdrstream/internal/frame"
)

var (
	ErrSourceClosed = errors.New("source closed")
	ErrUnknownKind  = errors.New("unknown source kind")
)

// Config carries parameters shared by the synthetic sources.
type Config struct {
	SampleRate float64
	ToneHz     float64
	NumSamples int
	Amplitude  float64
	Seed       int64
}

// Source produces one block of samples per Read.
type Source interface {
	Read(ctx context.Context) (frame.Block, error)
	Close() error
}

// Kind names a synthetic source.
type Kind string

const (
	KindSine  Kind = "sine"
	KindNoise Kind = "noise"
	KindIQ    Kind = "iq"
)

// ElementType is the sample type the kind produces.
func (k Kind) ElementType() frame.ElementType {
	switch Kind(strings.ToLower(string(k))) {
	case KindSine:
		return frame.Int16
	case KindNoise:
		return frame.Float64
	case KindIQ:
		return frame.Complex64
	default:
		return frame.Invalid
	}
}

// ParseKind accepts a source name in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSine, KindNoise, KindIQ:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// New builds the source named by kind.
func New(kind Kind, cfg Config) (Source, error) {
	k, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	switch k {
	case KindSine:
		return NewSine(cfg), nil
	case KindNoise:
		return NewNoise(cfg), nil
	default:
		return NewIQ(cfg), nil
	}
}

func withDefaults(cfg Config, samples int) Config {
	if cfg.NumSamples <= 0 {
		cfg.NumSamples = samples
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 30719999
	}
	return cfg
}
