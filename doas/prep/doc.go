// Package prep holds the preprocessing steps applied to raw intensity
// spectra before a DOAS fit: offset removal, binomial high-pass filtering,
// the logarithm and interlace expansion.
//
// All functions operate in place on the sample slice unless they return a
// new one. The three [Mode] variants compose the steps as follows:
//
//	ModeHighPassDivide:   offset(meas), offset(sky), meas/sky, high-pass, log
//	ModeHighPassSubtract: offset, high-pass, log; the sky is prepared the same
//	                      way and fitted as an additional reference
//	ModePolynomial:       offset, log, negate
//
// [HighPassBinomialSubtract] is not used by any mode. It is the additive
// counterpart of [HighPassBinomial] for callers that prepare spectra already
// on a logarithmic scale, where dividing by the smoothed baseline is wrong.
package prep
