package spectrum

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cwbudde/algo-vecmath"
)

// MaxLength is the largest number of samples a single spectrum may hold.
const MaxLength = 4096

// Errors returned by spectrum operations.
var (
	ErrLengthMismatch = errors.New("spectrum: length mismatch")
	ErrTooLong        = errors.New("spectrum: length exceeds maximum")
	ErrRange          = errors.New("spectrum: empty sample range")
	ErrZeroDivisor    = errors.New("spectrum: division by zero")
)

// Info holds acquisition metadata of a spectrum.
type Info struct {
	Name string

	// ScanIndex is the position of the spectrum inside its container and
	// serves as its identity within a scan.
	ScanIndex int

	NumSpectra    int // co-added exposures
	ExposureTime  int // milliseconds
	Channel       int
	InterlaceStep int

	// StartChannel is the detector pixel of the first sample, non-zero for
	// partial spectra.
	StartChannel int

	Device string
	Model  Model

	StartTime time.Time
	StopTime  time.Time

	// PeakIntensity and FitIntensity are filled by the scan evaluation from
	// the raw signal before dark correction.
	PeakIntensity float64
	FitIntensity  float64
}

// Spectrum is one recorded spectrum.
type Spectrum struct {
	Data []float64
	Info Info
}

// New creates a spectrum that owns a copy of data.
func New(data []float64, info Info) (*Spectrum, error) {
	if len(data) > MaxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, len(data), MaxLength)
	}
	s := &Spectrum{Data: make([]float64, len(data)), Info: info}
	copy(s.Data, data)
	return s, nil
}

// Zeros returns a zero-filled spectrum of length n.
func Zeros(n int, info Info) *Spectrum {
	if n < 0 {
		n = 0
	}
	return &Spectrum{Data: make([]float64, n), Info: info}
}

// Len returns the number of samples.
func (s *Spectrum) Len() int {
	return len(s.Data)
}

// Clone returns a deep copy.
func (s *Spectrum) Clone() *Spectrum {
	c := &Spectrum{Data: make([]float64, len(s.Data)), Info: s.Info}
	copy(c.Data, s.Data)
	return c
}

// ExposureTime returns the exposure time in milliseconds.
func (s *Spectrum) ExposureTime() int {
	return s.Info.ExposureTime
}

// NumSpectra returns the number of co-added exposures.
func (s *Spectrum) NumSpectra() int {
	return s.Info.NumSpectra
}

// IsDark reports whether the spectrum is labelled as a dark, offset or
// dark-current measurement.
func (s *Spectrum) IsDark() bool {
	switch strings.ToLower(strings.TrimSpace(s.Info.Name)) {
	case "dark", "offset", "dark_cur", "darkcur":
		return true
	}
	return false
}

func (s *Spectrum) checkLen(o *Spectrum) error {
	if o == nil || len(o.Data) != len(s.Data) {
		n := 0
		if o != nil {
			n = len(o.Data)
		}
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(s.Data), n)
	}
	return nil
}

// Add adds o sample by sample.
func (s *Spectrum) Add(o *Spectrum) error {
	if err := s.checkLen(o); err != nil {
		return err
	}
	vecmath.AddBlockInPlace(s.Data, o.Data)
	return nil
}

// Sub subtracts o sample by sample.
func (s *Spectrum) Sub(o *Spectrum) error {
	if err := s.checkLen(o); err != nil {
		return err
	}
	for i, v := range o.Data {
		s.Data[i] -= v
	}
	return nil
}

// Mul multiplies by o sample by sample.
func (s *Spectrum) Mul(o *Spectrum) error {
	if err := s.checkLen(o); err != nil {
		return err
	}
	vecmath.MulBlockInPlace(s.Data, o.Data)
	return nil
}

// Div divides by o sample by sample. Samples where o is zero become zero.
func (s *Spectrum) Div(o *Spectrum) error {
	if err := s.checkLen(o); err != nil {
		return err
	}
	for i, v := range o.Data {
		if v == 0 {
			s.Data[i] = 0
			continue
		}
		s.Data[i] /= v
	}
	return nil
}

// AddScalar adds v to every sample.
func (s *Spectrum) AddScalar(v float64) {
	for i := range s.Data {
		s.Data[i] += v
	}
}

// Scale multiplies every sample by k.
func (s *Spectrum) Scale(k float64) {
	vecmath.ScaleBlock(s.Data, s.Data, k)
}

// DivScalar divides every sample by k.
func (s *Spectrum) DivScalar(k float64) error {
	if k == 0 {
		return ErrZeroDivisor
	}
	for i := range s.Data {
		s.Data[i] /= k
	}
	return nil
}

func (s *Spectrum) span(lo, hi int) (int, int, error) {
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.Data) {
		hi = len(s.Data)
	}
	if lo >= hi {
		return 0, 0, fmt.Errorf("%w: [%d,%d) of %d", ErrRange, lo, hi, len(s.Data))
	}
	return lo, hi, nil
}

// Max returns the largest sample in [lo, hi), clamped to the data.
func (s *Spectrum) Max(lo, hi int) (float64, error) {
	lo, hi, err := s.span(lo, hi)
	if err != nil {
		return 0, err
	}
	m := s.Data[lo]
	for _, v := range s.Data[lo+1 : hi] {
		if v > m {
			m = v
		}
	}
	return m, nil
}

// Min returns the smallest sample in [lo, hi), clamped to the data.
func (s *Spectrum) Min(lo, hi int) (float64, error) {
	lo, hi, err := s.span(lo, hi)
	if err != nil {
		return 0, err
	}
	m := s.Data[lo]
	for _, v := range s.Data[lo+1 : hi] {
		if v < m {
			m = v
		}
	}
	return m, nil
}

// MaxAll returns the largest sample, or 0 for an empty spectrum.
func (s *Spectrum) MaxAll() float64 {
	m, err := s.Max(0, len(s.Data))
	if err != nil {
		return 0
	}
	return m
}
