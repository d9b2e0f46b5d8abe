// Package dark resolves the dark spectrum subtracted from a measurement.
//
// A [Resolver] follows one of the [Strategy] values: the dark record of the
// scan, a dark modelled from an offset and a dark-current spectrum, or a
// dark read from a file. Whatever the strategy, the returned spectrum is
// expanded when interlaced and rescaled to the co-add count of the
// measurement.
//
// The modelled dark for a measurement with N co-adds and exposure time T is
//
//	offset' = offset * N / N_off
//	dc'     = dc - offset * N_dc / N_off     (when the correction applies)
//	dark    = offset' + dc' * (N*T) / (N_dc*T_dc)
package dark
