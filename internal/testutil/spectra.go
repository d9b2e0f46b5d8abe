package testutil

import (
	"math"
	"math/rand"
)

// GaussianBands returns a cross-section made of Gaussian absorption bands of
// equal width and peak height at the given centres.
func GaussianBands(n int, centers []float64, width, height float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		for _, c := range centers {
			d := (float64(i) - c) / width
			out[i] += height * math.Exp(-d*d)
		}
	}
	return out
}

// SolarSpectrum returns a smooth positive intensity curve with a few narrow
// Fraunhofer-like dips, peaking near level.
func SolarSpectrum(n int, level float64) []float64 {
	out := make([]float64, n)
	mid := float64(n) / 2
	for i := range out {
		x := (float64(i) - mid) / float64(n)
		out[i] = level * (1 - 0.8*x*x)
	}
	for k := 1; k <= 4; k++ {
		c := float64(k*n) / 5
		for i := range out {
			d := (float64(i) - c) / 2.5
			out[i] *= 1 - 0.3*math.Exp(-d*d)
		}
	}
	return out
}

// Polynomial evaluates the polynomial with coefficients coef (lowest order
// first) at x = 0..n-1.
func Polynomial(n int, coef []float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		p := 1.0
		for _, c := range coef {
			out[i] += c * p
			p *= x
		}
	}
	return out
}

// DeterministicNoise generates uniform noise with a fixed seed.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// Constant returns a slice of length n filled with v.
func Constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
