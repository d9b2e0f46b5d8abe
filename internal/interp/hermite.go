package interp

// Hermite4 computes cubic 4-point interpolation.
// It interpolates from x0 to x1 using neighbor points xm1 and x2.
func Hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}

// HermiteAt evaluates samples at fractional index x with Hermite4,
// replicating the edge samples for the missing neighbours.
func HermiteAt(samples []float64, x float64) float64 {
	n := len(samples)
	switch {
	case n == 0:
		return 0
	case n == 1 || x <= 0:
		return samples[0]
	case x >= float64(n-1):
		return samples[n-1]
	}
	i := int(x)
	at := func(k int) float64 {
		if k < 0 {
			k = 0
		}
		if k > n-1 {
			k = n - 1
		}
		return samples[k]
	}
	return Hermite4(x-float64(i), at(i-1), at(i), at(i+1), at(i+2))
}
