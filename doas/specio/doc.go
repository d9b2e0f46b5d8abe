// Package specio reads and writes single spectra stored outside a scan
// container: a structured binary form (one container record, usually with
// the .std extension) and a plain-text form with one sample per line.
package specio
