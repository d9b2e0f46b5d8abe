package prep

import (
	"fmt"
	"strings"
)

// Mode selects the preprocessing variant of a fit window.
type Mode int

// Preprocessing variants.
const (
	ModeHighPassDivide Mode = iota
	ModeHighPassSubtract
	ModePolynomial
)

func (m Mode) String() string {
	switch m {
	case ModeHighPassDivide:
		return "hp_div"
	case ModeHighPassSubtract:
		return "hp_sub"
	case ModePolynomial:
		return "poly"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hp_div", "":
		return ModeHighPassDivide, nil
	case "hp_sub":
		return ModeHighPassSubtract, nil
	case "poly", "polynomial":
		return ModePolynomial, nil
	}
	return 0, fmt.Errorf("prep: unknown mode %q", s)
}

// UsesHighPass reports whether the variant applies the binomial high-pass.
func (m Mode) UsesHighPass() bool {
	return m == ModeHighPassDivide || m == ModeHighPassSubtract
}

// PrepareSky prepares a dark-corrected sky spectrum for the given mode:
// offset removal, high-pass for ModeHighPassSubtract, and the logarithm
// for every mode except ModeHighPassDivide, where the sky is a divisor.
func PrepareSky(mode Mode, sky []float64, uv bool) error {
	if err := RemoveOffset(sky, uv); err != nil {
		return err
	}
	if mode == ModeHighPassSubtract {
		HighPassBinomial(sky, DefaultHighPassIterations)
	}
	if mode != ModeHighPassDivide {
		Log(sky)
	}
	return nil
}

// PrepareMeasurement prepares a dark-corrected measurement in place. sky
// must have been prepared with PrepareSky and is only used by
// ModeHighPassDivide.
func PrepareMeasurement(mode Mode, meas, sky []float64, uv bool) error {
	if err := RemoveOffset(meas, uv); err != nil {
		return err
	}
	switch mode {
	case ModeHighPassDivide:
		if err := Divide(meas, sky); err != nil {
			return err
		}
		HighPassBinomial(meas, DefaultHighPassIterations)
		Log(meas)
	case ModeHighPassSubtract:
		HighPassBinomial(meas, DefaultHighPassIterations)
		Log(meas)
	case ModePolynomial:
		Log(meas)
		Negate(meas)
	default:
		return fmt.Errorf("prep: unknown mode %d", int(mode))
	}
	return nil
}

// PrepareShiftTarget prepares a measurement for the wavelength calibration
// fit, which has no sky spectrum.
func PrepareShiftTarget(mode Mode, meas []float64, uv bool) error {
	if err := RemoveOffset(meas, uv); err != nil {
		return err
	}
	if mode.UsesHighPass() {
		HighPassBinomial(meas, DefaultHighPassIterations)
	}
	Log(meas)
	if mode == ModePolynomial {
		Negate(meas)
	}
	return nil
}

// PrepareReference returns the solar reference prepared for the given
// mode: high-pass for the high-pass variants, then the logarithm.
func PrepareReference(mode Mode, ref []float64) []float64 {
	out := make([]float64, len(ref))
	copy(out, ref)
	if mode.UsesHighPass() {
		HighPassBinomial(out, DefaultHighPassIterations)
	}
	Log(out)
	return out
}
