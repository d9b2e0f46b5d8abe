package prep

import (
	"fmt"

	"github.com/cwbudde/algo-doas/doas/spectrum"
	"github.com/cwbudde/algo-doas/internal/interp"
)

// Deinterlace expands samples taken at every step-th pixel, starting at
// pixel phase, to one sample per pixel. The result has len(data)*step
// samples; gaps are filled by four-point Hermite interpolation and the
// edges hold the nearest sample.
func Deinterlace(data []float64, step, phase int) ([]float64, error) {
	if step < 1 || phase < 0 || phase >= step {
		return nil, fmt.Errorf("%w: step %d, phase %d", ErrInterlace, step, phase)
	}
	out := make([]float64, len(data)*step)
	if step == 1 {
		copy(out, data)
		return out, nil
	}
	for j := range out {
		out[j] = interp.HermiteAt(data, float64(j-phase)/float64(step))
	}
	return out, nil
}

// ExpandInterlaced expands an interlaced spectrum in place. The start
// channel is rounded down to the first pixel of the interlace grid. A
// spectrum with an interlace step of at most one is left untouched.
func ExpandInterlaced(s *spectrum.Spectrum) error {
	step := s.Info.InterlaceStep
	if step <= 1 {
		return nil
	}
	if s.Len()*step > spectrum.MaxLength {
		return fmt.Errorf("prep: %w: %d samples with interlace %d", spectrum.ErrTooLong, s.Len(), step)
	}
	phase := s.Info.StartChannel % step
	data, err := Deinterlace(s.Data, step, phase)
	if err != nil {
		return err
	}
	s.Data = data
	s.Info.InterlaceStep = 1
	s.Info.StartChannel -= phase
	return nil
}
