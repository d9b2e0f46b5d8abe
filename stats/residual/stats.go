package residual

import "math"

// Stats holds residual statistics.
type Stats struct {
	Length     int
	Mean       float64
	RMS        float64
	StdDev     float64 // population standard deviation
	Max        float64
	MaxPos     int
	Min        float64
	MinPos     int
	Delta      float64 // max - min
	SumSquares float64
}

// Calculate computes all statistics in a single pass using Welford's
// algorithm for the variance.
func Calculate(res []float64) Stats {
	n := len(res)
	if n == 0 {
		return Stats{}
	}

	var (
		mean   float64
		m2     float64
		sumSq  float64
		maxVal = res[0]
		minVal = res[0]
		maxPos int
		minPos int
	)

	for i, x := range res {
		delta := x - mean
		mean += delta / float64(i+1)
		m2 += delta * (x - mean)

		sumSq += x * x

		if x > maxVal {
			maxVal = x
			maxPos = i
		}
		if x < minVal {
			minVal = x
			minPos = i
		}
	}

	nf := float64(n)
	return Stats{
		Length:     n,
		Mean:       mean,
		RMS:        math.Sqrt(sumSq / nf),
		StdDev:     math.Sqrt(m2 / nf),
		Max:        maxVal,
		MaxPos:     maxPos,
		Min:        minVal,
		MinPos:     minPos,
		Delta:      maxVal - minVal,
		SumSquares: sumSq,
	}
}

// Delta returns the peak-to-peak spread of res.
func Delta(res []float64) float64 {
	if len(res) == 0 {
		return 0
	}
	lo, hi := res[0], res[0]
	for _, x := range res[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return hi - lo
}

// SumSquares returns the residual sum of squares.
func SumSquares(res []float64) float64 {
	var s float64
	for _, x := range res {
		s += x * x
	}
	return s
}
