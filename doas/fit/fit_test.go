package fit

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/spectrum"
	"github.com/cwbudde/algo-doas/internal/testutil"
)

const (
	specLen = 400
	fitLow  = 100
	fitHigh = 320
)

// band is an analytic absorption cross section so that shifted versions can
// be sampled exactly.
func band(x float64, centers []float64) float64 {
	var v float64
	for _, c := range centers {
		d := (x - c) / 4
		v += 1e-19 * math.Exp(-d*d)
	}
	return v
}

var (
	so2Centers = []float64{150, 190, 235, 280}
	o3Centers  = []float64{130, 210, 300}
)

func sample(f func(x float64) float64) []float64 {
	out := make([]float64, specLen)
	for i := range out {
		out[i] = f(float64(i))
	}
	return out
}

func polyT(x float64, coef []float64) float64 {
	c := float64(fitLow+fitHigh-1) / 2
	h := float64(fitHigh-fitLow) / 2
	t := (x - c) / h
	var v, p float64 = 0, 1
	for _, k := range coef {
		v += k * p
		p *= t
	}
	return v
}

// raw turns an intensity curve into a raw spectrum whose offset range has
// zero mean, so that offset removal leaves the intensities unchanged.
func raw(intensity []float64) *spectrum.Spectrum {
	data := make([]float64, len(intensity))
	copy(data, intensity)
	for i := 2; i < 20; i++ {
		data[i] = 5
		if i%2 == 1 {
			data[i] = -5
		}
	}
	s, _ := spectrum.New(data, spectrum.Info{NumSpectra: 1, InterlaceStep: 1})
	return s
}

func polyWindow(refs ...Reference) Window {
	return Window{
		Name:       "SO2",
		FitLow:     fitLow,
		FitHigh:    fitHigh,
		PolyOrder:  2,
		SpecLength: specLen,
		Mode:       prep.ModePolynomial,
		References: refs,
	}
}

func sky() []float64 {
	return testutil.SolarSpectrum(specLen, 3000)
}

// absorbed applies Beer-Lambert absorption with a polynomial baseline to
// the sky.
func absorbed(od func(x float64) float64) []float64 {
	s := sky()
	out := make([]float64, specLen)
	for i := range out {
		out[i] = s[i] * math.Exp(-od(float64(i)))
	}
	return out
}

func newEvaluator(t *testing.T, w Window) *Evaluator {
	t.Helper()
	e, err := New(w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetSky(raw(sky())); err != nil {
		t.Fatalf("SetSky: %v", err)
	}
	return e
}

func TestRecoversLinearCombination(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	o3 := sample(func(x float64) float64 { return band(x, o3Centers) })
	poly := []float64{0.02, -0.01, 0.005}

	meas := absorbed(func(x float64) float64 {
		i := int(x)
		return 4e17*so2[i] + 1.5e17*o3[i] + polyT(x, poly)
	})

	e := newEvaluator(t, polyWindow(
		Reference{Name: "SO2", Data: so2, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
		Reference{Name: "O3", Data: o3, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
	))

	res, err := e.Evaluate(raw(meas), 100)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	testutil.RequireRelative(t, "SO2 column", res.References[0].Column, 4e17, 1e-6)
	testutil.RequireRelative(t, "O3 column", res.References[1].Column, 1.5e17, 1e-6)
	for k, want := range poly {
		testutil.RequireNearlyEqual(t, "polynomial", res.Polynomial[k], want, 1e-8)
	}
	if res.ChiSquare > 1e-18 || res.Delta > 1e-8 {
		t.Fatalf("residual not near zero: chi2=%v delta=%v", res.ChiSquare, res.Delta)
	}
	if res.Sky == nil || res.Sky.Column != -1 {
		t.Fatalf("sky reference = %+v, want fixed column -1", res.Sky)
	}

	last, ok := e.LastResult()
	if !ok || last.References[0].Column != res.References[0].Column {
		t.Fatal("LastResult does not hold the last fit")
	}
}

func TestFreeShiftAndLinkedShift(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	o3 := sample(func(x float64) float64 { return band(x, o3Centers) })
	const shift = 0.7

	meas := absorbed(func(x float64) float64 {
		return 5e17*band(x-shift, so2Centers) + 2e17*band(x-shift, o3Centers)
	})

	e := newEvaluator(t, polyWindow(
		Reference{Name: "SO2", Data: so2, Column: Free(), Shift: Free(), Squeeze: Fixed(1)},
		Reference{Name: "O3", Data: o3, Column: Free(), Shift: Linked("so2"), Squeeze: Linked("SO2")},
	))

	res, err := e.Evaluate(raw(meas), 200)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	so2Res, o3Res := res.References[0], res.References[1]
	testutil.RequireNearlyEqual(t, "shift", so2Res.Shift, shift, 0.02)
	if o3Res.Shift != so2Res.Shift || o3Res.Squeeze != so2Res.Squeeze {
		t.Fatalf("linked reference: shift %v squeeze %v, target %v %v",
			o3Res.Shift, o3Res.Squeeze, so2Res.Shift, so2Res.Squeeze)
	}
	testutil.RequireRelative(t, "SO2 column", so2Res.Column, 5e17, 5e-3)
	testutil.RequireRelative(t, "O3 column", o3Res.Column, 2e17, 5e-3)
	if so2Res.ShiftError <= 0 || so2Res.ColumnError <= 0 {
		t.Fatalf("missing standard errors: %+v", so2Res)
	}
	if res.Steps < 2 {
		t.Fatalf("Steps = %d, want an iterated fit", res.Steps)
	}
}

func TestLinkedColumnSharesValue(t *testing.T) {
	a := sample(func(x float64) float64 { return band(x, so2Centers) })
	b := sample(func(x float64) float64 { return 0.5 * band(x, o3Centers) })

	meas := absorbed(func(x float64) float64 {
		i := int(x)
		return 3e17 * (a[i] + b[i])
	})

	e := newEvaluator(t, polyWindow(
		Reference{Name: "A", Data: a, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
		Reference{Name: "B", Data: b, Column: Linked("A"), Shift: Fixed(0), Squeeze: Fixed(1)},
	))
	res, err := e.Evaluate(raw(meas), 10)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	testutil.RequireRelative(t, "A column", res.References[0].Column, 3e17, 1e-6)
	if res.References[1].Column != res.References[0].Column {
		t.Fatalf("linked column %v != %v", res.References[1].Column, res.References[0].Column)
	}
}

func TestFixedAndLimitedColumns(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	o3 := sample(func(x float64) float64 { return band(x, o3Centers) })
	meas := absorbed(func(x float64) float64 {
		i := int(x)
		return 4e17*so2[i] + 2e17*o3[i]
	})

	e := newEvaluator(t, polyWindow(
		Reference{Name: "SO2", Data: so2, Column: Limited(0, 1e17), Shift: Fixed(0), Squeeze: Fixed(1)},
		Reference{Name: "O3", Data: o3, Column: Fixed(2e17), Shift: Fixed(0), Squeeze: Fixed(1)},
	))
	res, err := e.Evaluate(raw(meas), 10)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	testutil.RequireRelative(t, "limited column", res.References[0].Column, 1e17, 1e-12)
	if res.References[1].Column != 2e17 || res.References[1].ColumnError != 0 {
		t.Fatalf("fixed column = %+v", res.References[1])
	}
}

func TestLengthMismatchKeepsLastResult(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	e := newEvaluator(t, polyWindow(
		Reference{Name: "SO2", Data: so2, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
	))

	if _, err := e.Evaluate(raw(sky()), 10); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	before, _ := e.LastResult()

	short := spectrum.Zeros(specLen-1, spectrum.Info{})
	if _, err := e.Evaluate(short, 10); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
	after, _ := e.LastResult()
	if after.ChiSquare != before.ChiSquare || after.Steps != before.Steps {
		t.Fatal("failed fit changed the last result")
	}
}

func TestDuplicateReferencesAreSingular(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	e := newEvaluator(t, polyWindow(
		Reference{Name: "SO2", Data: so2, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
		Reference{Name: "SO2 copy", Data: so2, Column: Free(), Shift: Fixed(0), Squeeze: Fixed(1)},
	))
	if _, err := e.Evaluate(raw(sky()), 10); !errors.Is(err, ErrSingular) {
		t.Fatalf("err = %v, want ErrSingular", err)
	}
	if _, ok := e.LastResult(); ok {
		t.Fatal("singular fit must not produce a result")
	}
}

func TestEvaluateWithoutSky(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	e, err := New(polyWindow(Reference{Name: "SO2", Data: so2}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Evaluate(raw(sky()), 10); !errors.Is(err, ErrNoSky) {
		t.Fatalf("err = %v, want ErrNoSky", err)
	}
}

func TestValidateLinks(t *testing.T) {
	data := make([]float64, specLen)
	cycle := polyWindow(
		Reference{Name: "A", Data: data, Shift: Linked("B")},
		Reference{Name: "B", Data: data, Shift: Linked("A")},
	)
	if err := cycle.Validate(); !errors.Is(err, ErrLinkCycle) {
		t.Fatalf("err = %v, want ErrLinkCycle", err)
	}

	self := polyWindow(Reference{Name: "A", Data: data, Column: Linked("A")})
	if err := self.Validate(); !errors.Is(err, ErrLinkCycle) {
		t.Fatalf("err = %v, want ErrLinkCycle", err)
	}

	unknown := polyWindow(Reference{Name: "A", Data: data, Squeeze: Linked("nope")})
	if err := unknown.Validate(); !errors.Is(err, ErrUnknownLink) {
		t.Fatalf("err = %v, want ErrUnknownLink", err)
	}
}

func TestValidateRange(t *testing.T) {
	w := polyWindow()
	w.FitHigh = specLen + 1
	if err := w.Validate(); !errors.Is(err, ErrFitRange) {
		t.Fatalf("err = %v, want ErrFitRange", err)
	}

	w = polyWindow()
	w.StartChannel = 50
	lo, hi := w.FitRange()
	if lo != fitLow-50 || hi != fitHigh-50 {
		t.Fatalf("FitRange = [%d,%d)", lo, hi)
	}
}

func TestMissingReferencePath(t *testing.T) {
	_, err := New(polyWindow(Reference{Name: "SO2", Path: "x"}))
	if !errors.Is(err, ErrReference) {
		t.Fatalf("err = %v, want ErrReference", err)
	}
}

func solar(x float64) float64 {
	mid := float64(specLen) / 2
	u := (x - mid) / specLen
	v := 3000 * (1 - 0.8*u*u)
	for _, c := range []float64{140, 175, 215, 250, 290} {
		d := (x - c) / 3
		v *= 1 - 0.3*math.Exp(-d*d)
	}
	return v
}

func TestEvaluateShiftFindsCalibration(t *testing.T) {
	const shift = 1.3
	fraun := sample(solar)
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })

	w := polyWindow(Reference{Name: "SO2", Data: so2, Column: Free(), Shift: Free(), Squeeze: Free()})
	w.Fraunhofer = &Reference{Name: FraunhoferName, Data: fraun}
	if !w.HasCalibration() {
		t.Fatal("HasCalibration = false")
	}

	e, err := New(w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	meas := raw(sample(func(x float64) float64 { return solar(x - shift) }))

	res, err := e.EvaluateShift(meas)
	if err != nil {
		t.Fatalf("EvaluateShift: %v", err)
	}
	testutil.RequireNearlyEqual(t, "shift", res.Shift, shift, 0.02)
	if res.Squeeze != 1 || res.SqueezeError != 0 {
		t.Fatalf("squeeze = %v ± %v, want fixed 1", res.Squeeze, res.SqueezeError)
	}
	if math.Abs(res.ShiftError) >= 1 {
		t.Fatalf("ShiftError = %v", res.ShiftError)
	}
	so2Res := res.Fit.References[0]
	if so2Res.Shift != res.Shift || so2Res.Squeeze != 1 {
		t.Fatalf("ordinary reference not linked: %+v", so2Res)
	}
	if len(res.Fit.Polynomial) != 3 {
		t.Fatalf("polynomial order = %d, want 2", len(res.Fit.Polynomial)-1)
	}
}

func TestEvaluateShiftWithoutCalibration(t *testing.T) {
	so2 := sample(func(x float64) float64 { return band(x, so2Centers) })
	e, err := New(polyWindow(Reference{Name: "SO2", Data: so2}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.EvaluateShift(raw(sky())); !errors.Is(err, ErrNoCalibration) {
		t.Fatalf("err = %v, want ErrNoCalibration", err)
	}
}

func TestWindowCloneIsDeep(t *testing.T) {
	w := polyWindow(Reference{Name: "SO2", Data: []float64{1, 2, 3}})
	w.Fraunhofer = &Reference{Name: FraunhoferName, Data: []float64{4}}
	c := w.Clone()
	c.References[0].Data[0] = 99
	c.References[0].Shift = Fixed(2)
	c.Fraunhofer.Data[0] = 99
	if w.References[0].Data[0] != 1 || w.References[0].Shift.Option != OptionFree || w.Fraunhofer.Data[0] != 4 {
		t.Fatal("Clone shares state with the original")
	}
}
