// Package level turns captured audio into a per-frame loudness sample.
package level

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	FFTSize   = 256
	BinCount  = FFTSize / 2
	Smoothing = 0.8

	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser keeps the most recent FFTSize samples and reports a smoothed
// byte-scaled magnitude spectrum of them.
type Analyser struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	fft      *fourier.FFT
	frame    []float64
	coeffs   []complex128
	smoothed [BinCount]float64
}

func NewAnalyser() *Analyser {
	return &Analyser{
		fft:    fourier.NewFFT(FFTSize),
		frame:  make([]float64, FFTSize),
		coeffs: make([]complex128, FFTSize/2+1),
	}
}

// Feed consumes PCM16LE mono samples. It is an audio.DataCallback.
func (a *Analyser) Feed(data []byte, _ uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(data); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(data[i:]))) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
}

func (a *Analyser) BinCount() int { return BinCount }

// ByteFrequencyData writes the current spectrum into dst, one byte per bin.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%FFTSize]
	}
	window.Blackman(a.frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	const scale = 255 / (maxDecibels - minDecibels)
	for k := 0; k < BinCount; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = Smoothing*a.smoothed[k] + (1-Smoothing)*mag
		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - minDecibels))
		switch {
		case v < 0 || math.IsNaN(v):
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}
