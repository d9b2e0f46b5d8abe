package xcorr

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Errors returned by the correlation helpers.
var (
	ErrEmptyInput = errors.New("xcorr: empty input")
	ErrNoPeak     = errors.New("xcorr: no peak within lag limit")
)

// Correlate computes the full linear cross-correlation of a and b via FFT.
// The result has length len(a)+len(b)-1 and index k corresponds to lag
// k-(len(b)-1). A positive lag means a is b delayed by that many samples.
func Correlate(a, b []float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyInput
	}

	n := len(a)
	m := len(b)
	size := nextPowerOf2(n + m - 1)

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("xcorr: failed to create FFT plan: %w", err)
	}

	aBuf := make([]complex128, size)
	bBuf := make([]complex128, size)
	for i, v := range a {
		aBuf[i] = complex(v, 0)
	}
	for i, v := range b {
		bBuf[i] = complex(v, 0)
	}

	aFreq := make([]complex128, size)
	bFreq := make([]complex128, size)
	if err := plan.Forward(aFreq, aBuf); err != nil {
		return nil, fmt.Errorf("xcorr: forward FFT failed: %w", err)
	}
	if err := plan.Forward(bFreq, bBuf); err != nil {
		return nil, fmt.Errorf("xcorr: forward FFT failed: %w", err)
	}

	for i := range aFreq {
		aFreq[i] *= complex(real(bFreq[i]), -imag(bFreq[i]))
	}

	if err := plan.Inverse(aBuf, aFreq); err != nil {
		return nil, fmt.Errorf("xcorr: inverse FFT failed: %w", err)
	}

	// Circular result: non-negative lags at the front, negative at the back.
	out := make([]float64, n+m-1)
	for i := 0; i < n; i++ {
		out[m-1+i] = real(aBuf[i])
	}
	for i := 0; i < m-1; i++ {
		out[i] = real(aBuf[size-m+1+i])
	}
	return out, nil
}

// LagFromIndex converts a correlation index to a lag.
func LagFromIndex(index, lenB int) int {
	return index - (lenB - 1)
}

// IndexFromLag converts a lag to a correlation index.
func IndexFromLag(lag, lenB int) int {
	return lag + (lenB - 1)
}

// PeakLag returns the sub-sample lag by which a trails b. Both signals
// have their mean removed first. Only lags with |lag| <= maxLag are
// considered; the integer peak is refined with a parabola through its
// neighbours.
func PeakLag(a, b []float64, maxLag float64) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyInput
	}

	corr, err := Correlate(demean(a), demean(b))
	if err != nil {
		return 0, err
	}

	limit := int(math.Floor(math.Abs(maxLag)))
	lo := max(IndexFromLag(-limit, len(b)), 0)
	hi := min(IndexFromLag(limit, len(b)), len(corr)-1)
	if lo > hi {
		return 0, ErrNoPeak
	}

	best := lo
	for i := lo + 1; i <= hi; i++ {
		if corr[i] > corr[best] {
			best = i
		}
	}

	lag := float64(LagFromIndex(best, len(b)))
	if best > 0 && best < len(corr)-1 {
		y0, y1, y2 := corr[best-1], corr[best], corr[best+1]
		if den := y0 - 2*y1 + y2; den < 0 {
			lag += 0.5 * (y0 - y2) / den
		}
	}

	if math.Abs(lag) > math.Abs(maxLag) {
		return 0, ErrNoPeak
	}
	return lag, nil
}

func demean(x []float64) []float64 {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
