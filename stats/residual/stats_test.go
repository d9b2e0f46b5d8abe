package residual

import (
	"math"
	"testing"
)

const tolerance = 1e-12

func TestCalculateEmpty(t *testing.T) {
	st := Calculate(nil)
	if st.Length != 0 || st.Delta != 0 || st.RMS != 0 {
		t.Fatalf("unexpected stats for empty input: %+v", st)
	}
}

func TestCalculateKnownValues(t *testing.T) {
	res := []float64{1, -1, 2, -2, 0}
	st := Calculate(res)

	if st.Length != 5 {
		t.Fatalf("Length = %d, want 5", st.Length)
	}
	if math.Abs(st.Mean) > tolerance {
		t.Fatalf("Mean = %v, want 0", st.Mean)
	}
	if st.Max != 2 || st.MaxPos != 2 {
		t.Fatalf("Max = %v at %d, want 2 at 2", st.Max, st.MaxPos)
	}
	if st.Min != -2 || st.MinPos != 3 {
		t.Fatalf("Min = %v at %d, want -2 at 3", st.Min, st.MinPos)
	}
	if st.Delta != 4 {
		t.Fatalf("Delta = %v, want 4", st.Delta)
	}
	if st.SumSquares != 10 {
		t.Fatalf("SumSquares = %v, want 10", st.SumSquares)
	}
	if math.Abs(st.RMS-math.Sqrt(2)) > tolerance {
		t.Fatalf("RMS = %v, want sqrt(2)", st.RMS)
	}
	if math.Abs(st.StdDev-math.Sqrt(2)) > tolerance {
		t.Fatalf("StdDev = %v, want sqrt(2)", st.StdDev)
	}
}

func TestShortcutsMatchCalculate(t *testing.T) {
	res := []float64{0.3, -0.1, 0.25, 0.05, -0.4, 0.11}
	st := Calculate(res)
	if got := Delta(res); math.Abs(got-st.Delta) > tolerance {
		t.Fatalf("Delta = %v, want %v", got, st.Delta)
	}
	if got := SumSquares(res); math.Abs(got-st.SumSquares) > tolerance {
		t.Fatalf("SumSquares = %v, want %v", got, st.SumSquares)
	}
	if Delta(nil) != 0 {
		t.Fatalf("Delta(nil) != 0")
	}
}
