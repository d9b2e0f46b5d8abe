package testutil

import (
	"math"
	"testing"
)

func TestMaxAbsDiff(t *testing.T) {
	d, err := MaxAbsDiff([]float64{1, 2, 3}, []float64{1, 2.1, 3})
	if err != nil {
		t.Fatalf("MaxAbsDiff error: %v", err)
	}
	if math.Abs(d-0.1) > 1e-15 {
		t.Fatalf("MaxAbsDiff = %v, want 0.1", d)
	}
	if _, err := MaxAbsDiff([]float64{1}, []float64{1, 2}); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestRequireHelpersAcceptMatches(t *testing.T) {
	RequireNearlyEqual(t, "x", 1.0000001, 1, 1e-6)
	RequireRelative(t, "column", 1.0001e17, 1e17, 1e-3)
	RequireSliceNearlyEqual(t, []float64{1, 2}, []float64{1, 2}, 0)
	RequireFinite(t, []float64{0, -1, 1e300})
}

func TestSyntheticShapes(t *testing.T) {
	band := GaussianBands(100, []float64{30, 60}, 3, 2)
	if math.Abs(band[30]-2) > 1e-12 || math.Abs(band[60]-2) > 1e-12 {
		t.Fatalf("band peaks = %v, %v", band[30], band[60])
	}
	if band[0] > 1e-10 {
		t.Fatalf("band tail = %v", band[0])
	}

	sky := SolarSpectrum(200, 3000)
	for i, v := range sky {
		if v <= 0 {
			t.Fatalf("sky sample %d = %v, want positive", i, v)
		}
	}

	p := Polynomial(5, []float64{1, 2})
	if p[0] != 1 || p[4] != 9 {
		t.Fatalf("polynomial = %v", p)
	}

	n1 := DeterministicNoise(7, 0.5, 16)
	n2 := DeterministicNoise(7, 0.5, 16)
	RequireSliceNearlyEqual(t, n1, n2, 0)
}
