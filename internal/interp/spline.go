package interp

import "math"

// Spline is a natural cubic spline through unit-spaced samples y[0..n-1]
// located at x = 0..n-1. Outside [0, n-1] the edge value is held.
type Spline struct {
	y  []float64
	m2 []float64 // second derivatives at the knots
}

// NewSpline builds a spline through y. The samples are copied.
func NewSpline(y []float64) *Spline {
	n := len(y)
	s := &Spline{y: make([]float64, n), m2: make([]float64, n)}
	copy(s.y, y)
	if n < 3 {
		return s
	}

	// Thomas algorithm for M[i-1] + 4 M[i] + M[i+1] = 6 (y[i+1] - 2y[i] + y[i-1])
	// with natural boundary conditions M[0] = M[n-1] = 0.
	inner := n - 2
	c := make([]float64, inner)
	d := make([]float64, inner)
	for k := 0; k < inner; k++ {
		i := k + 1
		rhs := 6 * (y[i+1] - 2*y[i] + y[i-1])
		if k == 0 {
			c[k] = 1.0 / 4
			d[k] = rhs / 4
			continue
		}
		den := 4 - c[k-1]
		c[k] = 1 / den
		d[k] = (rhs - d[k-1]) / den
	}
	for k := inner - 1; k >= 0; k-- {
		v := d[k]
		if k < inner-1 {
			v -= c[k] * s.m2[k+2]
		}
		s.m2[k+1] = v
	}
	return s
}

// Len returns the number of knots.
func (s *Spline) Len() int {
	return len(s.y)
}

// At evaluates the spline at x.
func (s *Spline) At(x float64) float64 {
	n := len(s.y)
	switch {
	case n == 0:
		return 0
	case n == 1:
		return s.y[0]
	case math.IsNaN(x):
		return math.NaN()
	case x <= 0:
		return s.y[0]
	case x >= float64(n-1):
		return s.y[n-1]
	}

	i := int(x)
	if i > n-2 {
		i = n - 2
	}
	t := x - float64(i)
	u := 1 - t
	return u*s.y[i] + t*s.y[i+1] +
		((u*u*u-u)*s.m2[i]+(t*t*t-t)*s.m2[i+1])/6
}

// MaxAbs returns the largest absolute knot value.
func (s *Spline) MaxAbs() float64 {
	var m float64
	for _, v := range s.y {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
