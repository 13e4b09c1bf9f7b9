package dsp

import (
	"math"
)

// FFTShift reorders FFT-ordered bins so the zero-frequency bin sits in the
// middle, matching numpy.fft.fftshift for both even and odd lengths.
func FFTShift[T any](data []T) []T {
	n := len(data)
	out := make([]T, 0, n)
	if n == 0 {
		return out
	}
	half := (n + 1) / 2
	out = append(out, data[half:]...)
	return append(out, data[:half]...)
}

// FFTFreq returns the bin centre frequencies of an n-point FFT in FFT
// order: 0, fs/n, ..., then the negative frequencies.
func FFTFreq(n int, fs float64) []float64 {
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		if k < (n+1)/2 {
			out[k] = float64(k) * fs / float64(n)
		} else {
			out[k] = float64(k-n) * fs / float64(n)
		}
	}
	return out
}

// RFFTFreq returns the n/2+1 non-negative bin frequencies of a real FFT.
func RFFTFreq(n int, fs float64) []float64 {
	out := make([]float64, n/2+1)
	for k := range out {
		out[k] = float64(k) * fs / float64(n)
	}
	return out
}

// MinDB is the floor DB reports for zero or negative power, so the
// result stays finite and JSON encodable.
const MinDB = -300.0

// DB converts a power array to decibels.
func DB(power []float64) []float64 {
	out := make([]float64, len(power))
	for i, p := range power {
		db := MinDB
		if p > 0 {
			db = max(10*math.Log10(p), MinDB)
		}
		out[i] = db
	}
	return out
}

// TimeAxis returns n evenly spaced instants from 0 to n/fs inclusive, the
// x axis of a time-domain plot.
func TimeAxis(n int, fs float64) []float64 {
	out := make([]float64, n)
	if n <= 1 || fs <= 0 {
		return out
	}
	step := float64(n) / fs / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	return out
}
