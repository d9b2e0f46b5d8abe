// Package spectrum provides the in-memory spectrum record used throughout the
// DOAS evaluation: an owned, length-checked sample buffer plus acquisition
// metadata.
//
// Arithmetic between two spectra requires equal lengths and fails with
// [ErrLengthMismatch] otherwise; nothing is silently truncated:
//
//	meas, _ := spectrum.New(samples, spectrum.Info{NumSpectra: 10})
//	if err := meas.Sub(dark); err != nil {
//		return err
//	}
//	meas.DivScalar(float64(meas.Info.NumSpectra))
//
// The block operations dispatch to the SIMD kernels of algo-vecmath.
//
// [Model] maps a spectrometer serial number to its detector dynamic range,
// which the evaluation uses for saturation checks.
package spectrum
