package scan

import (
	"math"
	"slices"
	"strings"

	"github.com/cwbudde/algo-doas/doas/fit"
	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// Quality holds goodness-of-fit flags. The zero value is a good fit.
type Quality uint8

// Quality flags.
const (
	QualitySaturated Quality = 1 << iota
	QualityHighChiSquare
	QualityHighDelta
)

// Ok reports whether no flag is set.
func (q Quality) Ok() bool { return q == 0 }

func (q Quality) String() string {
	if q == 0 {
		return "ok"
	}
	var parts []string
	if q&QualitySaturated != 0 {
		parts = append(parts, "saturated")
	}
	if q&QualityHighChiSquare != 0 {
		parts = append(parts, "chi2")
	}
	if q&QualityHighDelta != 0 {
		parts = append(parts, "delta")
	}
	return strings.Join(parts, "|")
}

// Entry is one evaluated spectrum.
type Entry struct {
	Info    spectrum.Info
	Fit     fit.Result
	Quality Quality
}

// CalibrationKind tells how the shift and squeeze of a scan were found.
type CalibrationKind int

// Calibration kinds.
const (
	CalibrationFraunhofer CalibrationKind = iota
	CalibrationOptimalShift
)

func (k CalibrationKind) String() string {
	if k == CalibrationOptimalShift {
		return "optimal shift"
	}
	return "fraunhofer"
}

// Calibration describes the shift and squeeze determined before the main
// pass.
type Calibration struct {
	Kind CalibrationKind

	// Position is the container position of the spectrum used.
	Position int

	Shift        float64
	ShiftError   float64
	Squeeze      float64
	SqueezeError float64

	// Accepted reports whether the values were locked into the main pass.
	Accepted bool
}

// Result is the evaluation of one scan.
type Result struct {
	File   string
	Window fit.Window

	Entries   []Entry
	Corrupted []int

	// MostAbsorbing is the container position of the good spectrum with
	// the largest absolute column of the first reference, or -1.
	MostAbsorbing      int
	MostAbsorbingEntry int

	Sky  spectrum.Info
	Dark spectrum.Info

	Calibration *Calibration
}

func newResult(file string, w fit.Window) *Result {
	return &Result{File: file, Window: w, MostAbsorbing: -1, MostAbsorbingEntry: -1}
}

// Len returns the number of evaluated spectra.
func (r *Result) Len() int {
	return len(r.Entries)
}

// IsOk reports whether entry i passed the goodness-of-fit checks.
func (r *Result) IsOk(i int) bool {
	return i >= 0 && i < len(r.Entries) && r.Entries[i].Quality.Ok()
}

func (r *Result) ref(i, ref int) (fit.ReferenceResult, bool) {
	if i < 0 || i >= len(r.Entries) {
		return fit.ReferenceResult{}, false
	}
	refs := r.Entries[i].Fit.References
	if ref < 0 || ref >= len(refs) {
		return fit.ReferenceResult{}, false
	}
	return refs[ref], true
}

// Column returns the column of reference ref in entry i, or NaN.
func (r *Result) Column(i, ref int) float64 {
	if rr, ok := r.ref(i, ref); ok {
		return rr.Column
	}
	return math.NaN()
}

// ColumnError returns the column error of reference ref in entry i, or NaN.
func (r *Result) ColumnError(i, ref int) float64 {
	if rr, ok := r.ref(i, ref); ok {
		return rr.ColumnError
	}
	return math.NaN()
}

// IsCorrupted reports whether the record at container position pos could
// not be decoded.
func (r *Result) IsCorrupted(pos int) bool {
	return slices.Contains(r.Corrupted, pos)
}

func (r *Result) markCorrupted(pos int) {
	if !r.IsCorrupted(pos) {
		r.Corrupted = append(r.Corrupted, pos)
	}
}
