package fit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/algo-doas/doas/prep"
)

// FraunhoferName is the reference name reserved for the solar reference used
// by the wavelength calibration.
const FraunhoferName = "FraunhoferRef"

// Default limits of free shift and squeeze parameters.
const (
	DefaultShiftLimit   = 10.0
	DefaultSqueezeLow   = 0.98
	DefaultSqueezeHigh  = 1.02
	SkyShiftLimit       = 3.0
	SkySqueezeLow       = 0.95
	SkySqueezeHigh      = 1.05
	DefaultMaxSteps     = 1000
	DefaultShiftSteps   = 5000
	DefaultMinChiSquare = 1e-4
)

// Errors returned by the fit engine.
var (
	ErrLengthMismatch = errors.New("fit: spectrum length does not match window")
	ErrFitRange       = errors.New("fit: invalid fit range")
	ErrNoCalibration  = errors.New("fit: no calibration reference")
	ErrReference      = errors.New("fit: reference spectrum unavailable")
	ErrFitFailed      = errors.New("fit: fit failed")
	ErrSingular       = errors.New("fit: singular design matrix")
	ErrLinkCycle      = errors.New("fit: link cycle")
	ErrUnknownLink    = errors.New("fit: link to unknown reference")
	ErrNoSky          = errors.New("fit: sky spectrum not set")
)

// ParamOption is the constraint kind of a fit parameter.
type ParamOption int

// Parameter constraints.
const (
	OptionFree ParamOption = iota
	OptionFix
	OptionLink
	OptionLimit
)

func (o ParamOption) String() string {
	switch o {
	case OptionFree:
		return "free"
	case OptionFix:
		return "fix"
	case OptionLink:
		return "link"
	case OptionLimit:
		return "limit"
	}
	return fmt.Sprintf("ParamOption(%d)", int(o))
}

// Param constrains one column, shift or squeeze parameter.
//
// For OptionFix, Value is the fixed value. For OptionLimit, the parameter is
// free within [Value, Max]. For OptionLink, Link names the reference whose
// parameter of the same kind is shared.
type Param struct {
	Option ParamOption
	Value  float64
	Max    float64
	Link   string
}

// Free returns an unconstrained parameter.
func Free() Param { return Param{Option: OptionFree} }

// Fixed returns a parameter pinned to v.
func Fixed(v float64) Param { return Param{Option: OptionFix, Value: v} }

// Limited returns a parameter free within [lo, hi].
func Limited(lo, hi float64) Param { return Param{Option: OptionLimit, Value: lo, Max: hi} }

// Linked returns a parameter that follows the reference called name.
func Linked(name string) Param { return Param{Option: OptionLink, Link: name} }

// Reference is one reference spectrum of a fit window. Data is aligned with
// the measured spectrum array; when Data is empty it is loaded from Path.
type Reference struct {
	Name    string
	Path    string
	Data    []float64
	Column  Param
	Shift   Param
	Squeeze Param
}

func (r Reference) clone() Reference {
	c := r
	if r.Data != nil {
		c.Data = make([]float64, len(r.Data))
		copy(c.Data, r.Data)
	}
	return c
}

// Window is the configuration of one DOAS fit.
type Window struct {
	Name string

	// FitLow and FitHigh bound the fitted detector pixels [FitLow, FitHigh).
	FitLow, FitHigh int
	PolyOrder       int

	// SpecLength is the expected number of samples of measured spectra, 0
	// to accept any length.
	SpecLength    int
	StartChannel  int
	InterlaceStep int

	Mode prep.Mode
	UV   bool

	// ShiftSky lets the sky spectrum shift and squeeze within the sky
	// limits in the subtractive and polynomial modes.
	ShiftSky bool

	// FindOptimalShift requests a pre-pass that determines a common shift
	// and squeeze when no calibration reference is configured.
	FindOptimalShift bool

	References []Reference
	Fraunhofer *Reference
}

// Clone returns a deep copy of w.
func (w Window) Clone() Window {
	c := w
	c.References = make([]Reference, len(w.References))
	for i, r := range w.References {
		c.References[i] = r.clone()
	}
	if w.Fraunhofer != nil {
		f := w.Fraunhofer.clone()
		c.Fraunhofer = &f
	}
	return c
}

// HasCalibration reports whether a calibration reference is configured.
func (w Window) HasCalibration() bool {
	if w.Fraunhofer == nil {
		return false
	}
	return len(w.Fraunhofer.Data) > 0 || len(strings.TrimSpace(w.Fraunhofer.Path)) >= 3
}

// FitRange returns the fitted sample range of a measured spectrum array.
func (w Window) FitRange() (lo, hi int) {
	return w.FitLow - w.StartChannel, w.FitHigh - w.StartChannel
}

// Validate checks the window for structural errors.
func (w Window) Validate() error {
	lo, hi := w.FitRange()
	if lo < 0 || hi <= lo {
		return fmt.Errorf("%w: [%d,%d) with start channel %d", ErrFitRange, w.FitLow, w.FitHigh, w.StartChannel)
	}
	if w.SpecLength > 0 && hi > w.SpecLength {
		return fmt.Errorf("%w: fit range ends at %d, spectra hold %d samples", ErrFitRange, hi, w.SpecLength)
	}
	if w.PolyOrder < 0 {
		return fmt.Errorf("%w: polynomial order %d", ErrFitRange, w.PolyOrder)
	}
	if n := len(w.References) + w.PolyOrder + 1; hi-lo <= n {
		return fmt.Errorf("%w: %d samples for %d linear parameters", ErrFitRange, hi-lo, n)
	}

	seen := make(map[string]bool, len(w.References))
	for _, r := range w.References {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			return fmt.Errorf("%w: unnamed reference", ErrReference)
		}
		if seen[key] {
			return fmt.Errorf("%w: duplicate reference name %q", ErrReference, r.Name)
		}
		seen[key] = true
		if len(r.Data) > 0 && len(r.Data) < hi {
			return fmt.Errorf("%w: %q holds %d samples, fit range ends at %d", ErrReference, r.Name, len(r.Data), hi)
		}
	}

	specs := make([]termSpec, len(w.References))
	for i, r := range w.References {
		specs[i] = termSpec{name: r.Name, column: r.Column, shift: r.Shift, squeeze: r.Squeeze}
	}
	for _, kind := range []paramKind{kindColumn, kindShift, kindSqueeze} {
		if _, err := resolveLinks(specs, kind); err != nil {
			return err
		}
	}
	return nil
}
