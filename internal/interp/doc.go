// Package interp provides the interpolation primitives used to evaluate
// spectra at fractional pixel positions.
//
//   - [Spline]:   natural cubic spline over unit-spaced samples; used for
//     shifted and squeezed reference spectra
//   - [Hermite4]: 4-point cubic Hermite; used to fill the gaps of interlaced
//     spectra
package interp
