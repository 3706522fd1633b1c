package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	out := make([]complex128, 0, n)
	out = append(out, data[half:]...)
	return append(out, data[:half]...)
}

// PowerSpectrumDB computes the DC-centered power spectrum of complex samples
// in dBFS. Samples are expected scaled to [-1, 1): full scale maps to 0 dB.
// A Blackman window is applied and the result normalized by the window sum.
func PowerSpectrumDB(samples []complex64) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	win := Blackman(len(samples))
	windowed := ApplyWindow(samples, win)
	fft := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	sumWin := 0.0
	for _, v := range win {
		sumWin += v
	}
	for i := range fft {
		fft[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(fft)
	db := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v)
		if mag == 0 {
			db[i] = math.Inf(-1)
			continue
		}
		db[i] = 20 * math.Log10(mag)
	}
	return db
}

// FrequencyBins returns the DC-centered frequency axis for an n-point
// spectrum at the given sample rate, in Hz.
func FrequencyBins(n int, sampleRate float64) []float64 {
	if n <= 0 {
		return []float64{}
	}
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = (float64(i) - float64(n/2)) * sampleRate / float64(n)
	}
	return bins
}

// Peak returns the index and value of the largest element. An empty input
// yields index -1.
func Peak(values []float64) (int, float64) {
	if len(values) == 0 {
		return -1, math.Inf(-1)
	}
	idx, best := 0, values[0]
	for i, v := range values[1:] {
		if v > best {
			idx, best = i+1, v
		}
	}
	return idx, best
}
