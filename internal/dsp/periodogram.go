package dsp

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/rjboer/sdrstream/internal/frame"
)

var (
	ErrEmptyBlock = errors.New("empty block")
	ErrSampleRate = errors.New("sample rate must be positive")
)

// Estimator computes power spectral density estimates and caches the FFT
// plan and window for the block length it last saw. Blocks on one channel
// normally all have the same length, so the plan is built once.
type Estimator struct {
	fs     float64
	window Window

	mu     sync.Mutex
	n      int
	rfft   *fourier.FFT
	cfft   *fourier.CmplxFFT
	win    []float64
	winPow float64
}

// NewEstimator builds an estimator for sample rate fs. A nil window means
// boxcar, the periodogram default.
func NewEstimator(fs float64, window Window) (*Estimator, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrSampleRate, fs)
	}
	if window == nil {
		window = Boxcar
	}
	return &Estimator{fs: fs, window: window}, nil
}

// SampleRate returns the rate the estimator scales by.
func (e *Estimator) SampleRate() float64 { return e.fs }

// Periodogram estimates the power spectral density of b with a boxcar
// window and constant detrend, scaled as V²/Hz. Real blocks give a
// one-sided spectrum of n/2+1 bins; complex blocks give all n bins in FFT
// order.
func Periodogram(b frame.Block, fs float64) (freqs, power []float64, err error) {
	e, err := NewEstimator(fs, nil)
	if err != nil {
		return nil, nil, err
	}
	return e.Estimate(b)
}

// Estimate is Periodogram with the estimator's window and cached plan.
func (e *Estimator) Estimate(b frame.Block) (freqs, power []float64, err error) {
	n := b.Len()
	if n == 0 {
		return nil, nil, ErrEmptyBlock
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resize(n)
	scale := 1 / (e.fs * e.winPow)

	if b.Type.IsComplex() {
		x := ApplyWindow(detrendComplex(b.Complex()), e.win)
		coeffs := e.complexPlan().Coefficients(nil, x)
		power = make([]float64, n)
		for i, c := range coeffs {
			power[i] = (real(c)*real(c) + imag(c)*imag(c)) * scale
		}
		return FFTFreq(n, e.fs), power, nil
	}

	x := detrendReal(b.Reals())
	for i := range x {
		x[i] *= e.win[i]
	}
	coeffs := e.realPlan().Coefficients(nil, x)
	power = make([]float64, len(coeffs))
	for i, c := range coeffs {
		power[i] = (real(c)*real(c) + imag(c)*imag(c)) * scale
	}
	// Fold the negative frequencies onto the positive ones. DC, and the
	// Nyquist bin for even n, have no mirror.
	last := len(power)
	if n%2 == 0 {
		last--
	}
	for i := 1; i < last; i++ {
		power[i] *= 2
	}
	return RFFTFreq(n, e.fs), power, nil
}

// Size returns the block length the cached plan was built for.
func (e *Estimator) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func (e *Estimator) resize(n int) {
	if n == e.n {
		return
	}
	e.n = n
	e.rfft = nil
	e.cfft = nil
	e.win = e.window(n)
	e.winPow = 0
	for _, w := range e.win {
		e.winPow += w * w
	}
}

func (e *Estimator) realPlan() *fourier.FFT {
	if e.rfft == nil {
		e.rfft = fourier.NewFFT(e.n)
	}
	return e.rfft
}

func (e *Estimator) complexPlan() *fourier.CmplxFFT {
	if e.cfft == nil {
		e.cfft = fourier.NewCmplxFFT(e.n)
	}
	return e.cfft
}

func detrendReal(x []float64) []float64 {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for i := range x {
		x[i] -= mean
	}
	return x
}

func detrendComplex(x []complex128) []complex128 {
	var mean complex128
	for _, v := range x {
		mean += v
	}
	mean /= complex(float64(len(x)), 0)
	for i := range x {
		x[i] -= mean
	}
	return x
}
