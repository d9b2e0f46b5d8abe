// Package xcorr estimates the offset between two sampled signals from the
// peak of their FFT cross-correlation.
package xcorr
