// Package residual computes summary statistics of fit residuals.
//
// The DOAS fit quality is usually judged by the peak-to-peak spread of the
// residual ([Stats.Delta]) together with the residual sum of squares:
//
//	st := residual.Calculate(res)
//	fmt.Println(st.Delta, st.RMS)
package residual
