package dsp

import (
	"github.com/rjboer/sdrstream/internal/dispatch"
	"github.com/rjboer/sdrstream/internal/frame"
)

// SpectrumFunc receives one power spectrum.
type SpectrumFunc func(freqs, power []float64) error

// SpectrumSink is the consumer-side DSP placement: a sink that estimates
// the spectrum of every block it is handed and passes the result to next.
// With shift set, two-sided spectra are reordered so frequencies ascend.
func SpectrumSink(est *Estimator, shift bool, next SpectrumFunc) dispatch.Sink {
	return dispatch.SinkFunc(func(b frame.Block) error {
		freqs, power, err := est.Estimate(b)
		if err != nil {
			return err
		}
		if shift && b.Type.IsComplex() {
			freqs, power = FFTShift(freqs), FFTShift(power)
		}
		return next(freqs, power)
	})
}

// SpectrumBlock is the acquisition-side placement: it turns b into a
// float64 block of power values ready to publish on a frequency channel.
func SpectrumBlock(est *Estimator, b frame.Block, shift bool) (frame.Block, error) {
	_, power, err := est.Estimate(b)
	if err != nil {
		return frame.Block{}, err
	}
	if shift && b.Type.IsComplex() {
		power = FFTShift(power)
	}
	return frame.Of(power), nil
}
