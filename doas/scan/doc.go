// Package scan evaluates complete scans.
//
// [Evaluator.EvaluateScan] drives one scan container through the stages
//
//	acquire sky -> resolve dark -> calibrate (optional) -> evaluate -> finalize
//
// The sky is taken from the scan, averaged over its unsaturated spectra,
// picked by position or read from a file. When the fit window carries a
// calibration reference, the best exposed spectrum is used to determine a
// common shift and squeeze before the main pass; alternatively a pre-pass
// with pinned shifts locates the most absorbing spectrum and refits it with
// a free shift.
//
// Every measurement is expanded when interlaced, dark corrected, screened
// against the minimum signal level and fitted. Records that fail to decode
// are marked corrupted and skipped; fits that fail are logged and dropped.
//
// An Evaluator holds only read-only configuration and may be shared by
// goroutines evaluating different scans; [Batch] does exactly that.
package scan
