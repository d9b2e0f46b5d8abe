// Package fit implements the DOAS fit engine.
//
// A [Window] describes one retrieval: the fitted pixel range, the polynomial
// order, the preprocessing [prep.Mode] and the reference cross sections with
// the constraints on their column, shift and squeeze. An [Evaluator] turns a
// window into a model
//
//	y(x) = sum_i c_i * ref_i(c + (x - s_i - c)/q_i) + sum_k p_k * t^k
//
// where c is the centre of the fit range, t = (x - c)/h with h the half
// width of the range, and fits it to a preprocessed measurement. Columns
// c_i and polynomial coefficients p_k enter linearly and are solved exactly
// for every trial of the nonlinear shift s_i and squeeze q_i parameters,
// which are optimised by a bounded Levenberg-Marquardt iteration.
//
// Parameters may be free, fixed, limited to a range, or linked by name to
// the same parameter of another reference. Links are resolved once when the
// model is built; cycles and unknown names are configuration errors.
package fit
