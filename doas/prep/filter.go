package prep

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// DefaultHighPassIterations is the number of binomial passes used by the
// high-pass filter in every pipeline variant.
const DefaultHighPassIterations = 500

// Errors returned by the preprocessing steps.
var (
	ErrTooShort       = errors.New("prep: spectrum too short")
	ErrLengthMismatch = errors.New("prep: length mismatch")
	ErrInterlace      = errors.New("prep: invalid interlace step")
)

// OffsetRange returns the pixel range used to estimate the residual offset.
func OffsetRange(uv bool) (lo, hi int) {
	if uv {
		return 50, 200
	}
	return 2, 20
}

// RemoveOffset subtracts the mean of the offset range from every sample.
func RemoveOffset(data []float64, uv bool) error {
	lo, hi := OffsetRange(uv)
	if len(data) < hi {
		return fmt.Errorf("%w: %d samples, offset range ends at %d", ErrTooShort, len(data), hi)
	}
	var sum float64
	for _, v := range data[lo:hi] {
		sum += v
	}
	mean := sum / float64(hi-lo)
	for i := range data {
		data[i] -= mean
	}
	return nil
}

// LowPassBinomial applies n passes of the [1 2 1]/4 kernel. The first and
// last sample are held.
func LowPassBinomial(data []float64, n int) {
	if len(data) < 3 || n <= 0 {
		return
	}
	inner := len(data) - 2
	sum := make([]float64, inner)
	for range n {
		copy(sum, data[:inner])
		vecmath.AddBlockInPlace(sum, data[2:])
		vecmath.AddBlockInPlace(sum, data[1:inner+1])
		vecmath.AddBlockInPlace(sum, data[1:inner+1])
		vecmath.ScaleBlock(data[1:inner+1], sum, 0.25)
	}
}

// HighPassBinomial divides data by an n-pass binomial smoothing of itself.
// Samples where the smoothed value is zero become zero.
func HighPassBinomial(data []float64, n int) {
	smooth := make([]float64, len(data))
	copy(smooth, data)
	LowPassBinomial(smooth, n)
	for i, s := range smooth {
		if s == 0 {
			data[i] = 0
			continue
		}
		data[i] /= s
	}
}

// HighPassBinomialSubtract subtracts an n-pass binomial smoothing of data
// from itself. Use it on optical densities; raw intensities go through
// HighPassBinomial.
func HighPassBinomialSubtract(data []float64, n int) {
	smooth := make([]float64, len(data))
	copy(smooth, data)
	LowPassBinomial(smooth, n)
	for i, s := range smooth {
		data[i] -= s
	}
}

// Log replaces every sample by its natural logarithm. Non-positive samples
// become zero.
func Log(data []float64) {
	for i, v := range data {
		if v <= 0 {
			data[i] = 0
			continue
		}
		data[i] = math.Log(v)
	}
}

// Negate flips the sign of every sample.
func Negate(data []float64) {
	vecmath.ScaleBlock(data, data, -1)
}

// Divide divides meas by sky sample by sample. Samples where sky is zero
// become zero.
func Divide(meas, sky []float64) error {
	if len(meas) != len(sky) {
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(meas), len(sky))
	}
	for i, s := range sky {
		if s == 0 {
			meas[i] = 0
			continue
		}
		meas[i] /= s
	}
	return nil
}
