package fit

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/specio"
	"github.com/cwbudde/algo-doas/doas/spectrum"
	"github.com/cwbudde/algo-doas/internal/xcorr"
	"github.com/cwbudde/algo-doas/stats/residual"
)

// ReferenceResult holds the fitted parameters of one reference.
type ReferenceResult struct {
	Name         string
	Column       float64
	ColumnError  float64
	Shift        float64
	ShiftError   float64
	Squeeze      float64
	SqueezeError float64
}

// Result is the outcome of one successful fit.
type Result struct {
	// References follow the order of Window.References.
	References []ReferenceResult

	// Sky holds the fitted sky reference in the subtractive and polynomial
	// modes.
	Sky *ReferenceResult

	// Polynomial holds the baseline coefficients in powers of
	// t = (x - c)/h, lowest order first.
	Polynomial []float64

	Steps     int
	ChiSquare float64
	Delta     float64
	Residual  []float64
	Stats     residual.Stats
}

// Reference looks up a reference result by name.
func (r Result) Reference(name string) (ReferenceResult, bool) {
	for _, ref := range r.References {
		if strings.EqualFold(ref.Name, name) {
			return ref, true
		}
	}
	return ReferenceResult{}, false
}

// ShiftResult is the outcome of the wavelength calibration fit.
type ShiftResult struct {
	Shift        float64
	ShiftError   float64
	Squeeze      float64
	SqueezeError float64
	Fit          Result
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaxSteps sets the step limit used by Evaluate when called with a
// non-positive step count.
func WithMaxSteps(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithShiftSteps sets the step limit of EvaluateShift.
func WithShiftSteps(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.shiftSteps = n
		}
	}
}

// WithMinChiSquare sets the relative chi-square improvement below which the
// iteration stops.
func WithMinChiSquare(v float64) Option {
	return func(e *Evaluator) {
		if v > 0 {
			e.minChi = v
		}
	}
}

// Evaluator fits measured spectra against one fit window. An Evaluator is
// not safe for concurrent use.
type Evaluator struct {
	window Window

	maxSteps   int
	shiftSteps int
	minChi     float64

	refs  []*refFunc
	fraun *refFunc // prepared calibration reference

	sky    []float64 // prepared sky
	skyRef *refFunc

	last    Result
	hasLast bool
}

// New validates w, loads reference spectra given only by path and returns
// an Evaluator owning a copy of the window.
func New(w Window, opts ...Option) (*Evaluator, error) {
	w = w.Clone()
	for i := range w.References {
		r := &w.References[i]
		if len(r.Data) > 0 {
			continue
		}
		data, err := loadReference(r.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrReference, r.Name, err)
		}
		r.Data = data
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{
		window:     w,
		maxSteps:   DefaultMaxSteps,
		shiftSteps: DefaultShiftSteps,
		minChi:     DefaultMinChiSquare,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.refs = make([]*refFunc, len(w.References))
	for i, r := range w.References {
		e.refs[i] = newRefFunc(r.Data)
	}
	return e, nil
}

func loadReference(path string) ([]float64, error) {
	if len(strings.TrimSpace(path)) < 3 {
		return nil, fmt.Errorf("path %q too short", path)
	}
	s, err := specio.ReadAny(path)
	if err != nil {
		return nil, err
	}
	return s.Data, nil
}

// Window returns a copy of the evaluator's window.
func (e *Evaluator) Window() Window {
	return e.window.Clone()
}

// SetSky prepares and stores the dark-corrected sky spectrum.
func (e *Evaluator) SetSky(sky *spectrum.Spectrum) error {
	if err := e.checkLength(sky); err != nil {
		return err
	}
	data := make([]float64, sky.Len())
	copy(data, sky.Data)
	if err := prep.PrepareSky(e.window.Mode, data, e.window.UV); err != nil {
		return fmt.Errorf("fit: sky: %w", err)
	}
	e.sky = data
	e.skyRef = nil
	if e.window.Mode != prep.ModeHighPassDivide {
		e.skyRef = newRefFunc(data)
	}
	return nil
}

func (e *Evaluator) checkLength(s *spectrum.Spectrum) error {
	if s == nil {
		return fmt.Errorf("%w: nil spectrum", ErrLengthMismatch)
	}
	if e.window.SpecLength > 0 && s.Len() != e.window.SpecLength {
		return fmt.Errorf("%w: %d samples, window expects %d", ErrLengthMismatch, s.Len(), e.window.SpecLength)
	}
	if _, hi := e.window.FitRange(); s.Len() < hi {
		return fmt.Errorf("%w: %d samples, fit range ends at %d", ErrLengthMismatch, s.Len(), hi)
	}
	return nil
}

func (e *Evaluator) referenceSpecs() []termSpec {
	specs := make([]termSpec, len(e.window.References))
	for i, r := range e.window.References {
		specs[i] = termSpec{name: r.Name, fn: e.refs[i], column: r.Column, shift: r.Shift, squeeze: r.Squeeze}
	}
	return specs
}

func (e *Evaluator) skySpec() termSpec {
	col := 1.0
	if e.window.Mode == prep.ModePolynomial {
		col = -1
	}
	s := termSpec{name: "sky", fn: e.skyRef, column: Fixed(col), shift: Fixed(0), squeeze: Fixed(1)}
	if e.window.ShiftSky {
		s.shift = Limited(-SkyShiftLimit, SkyShiftLimit)
		s.squeeze = Limited(SkySqueezeLow, SkySqueezeHigh)
	}
	return s
}

// Evaluate preprocesses a copy of the dark-corrected measurement and fits
// the window to it. A failed fit leaves the previous result untouched.
func (e *Evaluator) Evaluate(meas *spectrum.Spectrum, maxSteps int) (Result, error) {
	if err := e.checkLength(meas); err != nil {
		return Result{}, err
	}
	if e.sky == nil {
		return Result{}, ErrNoSky
	}
	if len(e.sky) != meas.Len() {
		return Result{}, fmt.Errorf("%w: sky holds %d samples, measurement %d", ErrLengthMismatch, len(e.sky), meas.Len())
	}
	if maxSteps <= 0 {
		maxSteps = e.maxSteps
	}

	data := make([]float64, meas.Len())
	copy(data, meas.Data)
	if err := prep.PrepareMeasurement(e.window.Mode, data, e.sky, e.window.UV); err != nil {
		return Result{}, fmt.Errorf("fit: %w", err)
	}

	specs := e.referenceSpecs()
	if e.skyRef != nil {
		specs = append(specs, e.skySpec())
	}

	res, err := e.run(specs, e.window.PolyOrder, data, maxSteps)
	if err != nil {
		return Result{}, err
	}

	if e.skyRef != nil {
		sky := res.References[len(res.References)-1]
		res.References = res.References[:len(res.References)-1]
		res.Sky = &sky
	}
	e.last, e.hasLast = res, true
	return res, nil
}

// EvaluateShift runs the wavelength calibration fit on a dark-corrected
// measurement: the calibration reference with a fixed unit column, free
// shift and squeeze pinned to one, all other references sharing its shift
// and squeeze, and a second order polynomial.
func (e *Evaluator) EvaluateShift(meas *spectrum.Spectrum) (ShiftResult, error) {
	if err := e.checkLength(meas); err != nil {
		return ShiftResult{}, err
	}
	if err := e.loadFraunhofer(); err != nil {
		return ShiftResult{}, err
	}

	data := make([]float64, meas.Len())
	copy(data, meas.Data)
	if err := prep.PrepareShiftTarget(e.window.Mode, data, e.window.UV); err != nil {
		return ShiftResult{}, fmt.Errorf("fit: %w", err)
	}

	col := 1.0
	if e.window.Mode == prep.ModePolynomial {
		col = -1
	}

	lo, hi := e.window.FitRange()
	seed := e.shiftSeed(data, lo, hi, col)

	specs := []termSpec{{
		name:    FraunhoferName,
		fn:      e.fraun,
		column:  Fixed(col),
		shift:   Free(),
		squeeze: Fixed(1),
		seed:    seed,
		seeded:  true,
	}}
	for _, s := range e.referenceSpecs() {
		if strings.EqualFold(s.name, FraunhoferName) {
			continue
		}
		s.shift = Linked(FraunhoferName)
		s.squeeze = Linked(FraunhoferName)
		if s.column.Option == OptionLink && strings.EqualFold(s.column.Link, FraunhoferName) {
			s.column = Free()
		}
		specs = append(specs, s)
	}

	res, err := e.run(specs, 2, data, e.shiftSteps)
	if err != nil {
		return ShiftResult{}, err
	}

	f := res.References[0]
	res.References = res.References[1:]
	return ShiftResult{
		Shift:        f.Shift,
		ShiftError:   f.ShiftError,
		Squeeze:      f.Squeeze,
		SqueezeError: f.SqueezeError,
		Fit:          res,
	}, nil
}

func (e *Evaluator) loadFraunhofer() error {
	if e.fraun != nil {
		return nil
	}
	if !e.window.HasCalibration() {
		return ErrNoCalibration
	}
	ref := e.window.Fraunhofer
	data := ref.Data
	if len(data) == 0 {
		var err error
		data, err = loadReference(ref.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoCalibration, err)
		}
	}
	if _, hi := e.window.FitRange(); len(data) < hi {
		return fmt.Errorf("%w: reference holds %d samples, fit range ends at %d", ErrNoCalibration, len(data), hi)
	}
	e.fraun = newRefFunc(prep.PrepareReference(e.window.Mode, data))
	return nil
}

// shiftSeed estimates the calibration shift from the cross-correlation of
// the target with the calibration reference.
func (e *Evaluator) shiftSeed(data []float64, lo, hi int, sign float64) float64 {
	target := make([]float64, hi-lo)
	ref := make([]float64, hi-lo)
	for i := range target {
		target[i] = sign * data[lo+i]
		ref[i] = e.fraun.spline.At(float64(lo + i))
	}
	lag, err := xcorr.PeakLag(target, ref, DefaultShiftLimit)
	if err != nil {
		return 0
	}
	return lag
}

func (e *Evaluator) run(specs []termSpec, poly int, data []float64, maxSteps int) (Result, error) {
	lo, hi := e.window.FitRange()
	p, err := build(specs, poly, data, lo, hi)
	if err != nil {
		return Result{}, err
	}
	sol, err := p.solve(maxSteps, e.minChi)
	if err != nil {
		return Result{}, err
	}
	linErr, nlErr := p.covariance(sol)

	res := Result{
		References: make([]ReferenceResult, len(specs)),
		Polynomial: make([]float64, poly+1),
		Steps:      sol.steps,
		ChiSquare:  sol.lin.chi2,
		Residual:   sol.lin.resid,
		Stats:      residual.Calculate(sol.lin.resid),
	}
	res.Delta = res.Stats.Delta

	value := func(s slot) (float64, float64) {
		if s.idx < 0 {
			return s.value, 0
		}
		return sol.theta[s.idx], nlErr[s.idx]
	}
	for i, s := range specs {
		t := p.terms[p.owners[i]]
		rr := ReferenceResult{Name: s.name}
		if t.group < 0 {
			rr.Column = t.fixed
		} else {
			scale := p.groups[t.group].scale
			rr.Column = sol.lin.coef[t.group] / scale
			rr.ColumnError = linErr[t.group] / scale
		}
		rr.Shift, rr.ShiftError = value(t.shift)
		rr.Squeeze, rr.SqueezeError = value(t.squeeze)
		res.References[i] = rr
	}
	for k := range res.Polynomial {
		res.Polynomial[k] = sol.lin.coef[len(p.groups)+k]
	}

	if math.IsNaN(res.ChiSquare) {
		return Result{}, ErrFitFailed
	}
	return res, nil
}

// LastResult returns the most recent successful Evaluate result.
func (e *Evaluator) LastResult() (Result, bool) {
	return e.last, e.hasLast
}
