// Package store persists scan evaluation results in SQLite.
//
// One evaluated scan becomes a row in scans, one row per evaluated
// spectrum in spectra, one row per spectrum and reference in columns and
// one row per undecodable record in corrupted. [Store.Columns] returns the
// column time series of one species, which is what a downstream flux
// computation consumes.
//
// The database is opened through modernc.org/sqlite with
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// In tests:
//
//	s := store.OpenMemory(t)
package store
