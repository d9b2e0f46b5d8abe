package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwbudde/algo-doas/doas/scan"
)

// ErrNotFound is returned when a scan id is unknown.
var ErrNotFound = errors.New("store: scan not found")

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	now         func() time.Time
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		now:         time.Now,
	}
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithClock sets the time source for evaluation timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Store is a result database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db, now: cfg.now}, nil
}

// OpenMemory opens an in-memory store for testing and closes it when the
// test ends. All queries share one connection, since every connection to
// ":memory:" is a separate database.
func OpenMemory(t testing.TB, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// SaveScan stores r under a new id. file labels the scan; when empty the
// result's own file name is used.
func (s *Store) SaveScan(ctx context.Context, file string, r *scan.Result) (string, error) {
	if r == nil {
		return "", errors.New("store: nil result")
	}
	if file == "" {
		file = r.File
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		kind           sql.NullString
		shift, squeeze sql.NullFloat64
		accepted       bool
	)
	if c := r.Calibration; c != nil {
		kind = sql.NullString{String: c.Kind.String(), Valid: true}
		shift = sql.NullFloat64{Float64: c.Shift, Valid: true}
		squeeze = sql.NullFloat64{Float64: c.Squeeze, Valid: true}
		accepted = c.Accepted
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO scans
		(id, file, window_name, evaluated_at, sky_name, sky_coadds, dark_name, most_absorbing, calibration, shift, squeeze, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, file, r.Window.Name, s.now().UnixMilli(), r.Sky.Name, r.Sky.NumSpectra, r.Dark.Name,
		r.MostAbsorbing, kind, shift, squeeze, accepted)
	if err != nil {
		return "", fmt.Errorf("store: insert scan: %w", err)
	}

	specStmt, err := tx.PrepareContext(ctx, `INSERT INTO spectra
		(scan_id, entry, position, name, start_time, stop_time, exposure, coadds, peak_intensity, fit_intensity, chi_square, delta, steps, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("store: prepare: %w", err)
	}
	defer specStmt.Close()

	colStmt, err := tx.PrepareContext(ctx, `INSERT INTO columns
		(scan_id, entry, specie, col_value, col_error, shift, shift_error, squeeze, squeeze_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("store: prepare: %w", err)
	}
	defer colStmt.Close()

	for i, e := range r.Entries {
		in := e.Info
		if _, err := specStmt.ExecContext(ctx, id, i, in.ScanIndex, in.Name,
			millis(in.StartTime), millis(in.StopTime), in.ExposureTime, in.NumSpectra,
			in.PeakIntensity, in.FitIntensity, e.Fit.ChiSquare, e.Fit.Delta, e.Fit.Steps, int(e.Quality)); err != nil {
			return "", fmt.Errorf("store: insert spectrum %d: %w", i, err)
		}
		for _, ref := range e.Fit.References {
			if _, err := colStmt.ExecContext(ctx, id, i, ref.Name, ref.Column, ref.ColumnError,
				ref.Shift, ref.ShiftError, ref.Squeeze, ref.SqueezeError); err != nil {
				return "", fmt.Errorf("store: insert column %s of spectrum %d: %w", ref.Name, i, err)
			}
		}
	}

	for _, pos := range r.Corrupted {
		if _, err := tx.ExecContext(ctx, `INSERT INTO corrupted (scan_id, position) VALUES (?, ?)`, id, pos); err != nil {
			return "", fmt.Errorf("store: insert corrupted: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// ColumnPoint is the column of one species in one spectrum.
type ColumnPoint struct {
	Entry       int
	Position    int
	Name        string
	StartTime   time.Time
	StopTime    time.Time
	Column      float64
	ColumnError float64
	Ok          bool
}

// Columns returns the column series of specie in scan id, ordered as
// evaluated. Species names match case-insensitively.
func (s *Store) Columns(ctx context.Context, id, specie string) ([]ColumnPoint, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT sp.entry, sp.position, sp.name, sp.start_time, sp.stop_time,
			c.col_value, c.col_error, sp.quality
		FROM columns c JOIN spectra sp ON sp.scan_id = c.scan_id AND sp.entry = c.entry
		WHERE c.scan_id = ? AND lower(c.specie) = ?
		ORDER BY sp.entry`, id, strings.ToLower(specie))
	if err != nil {
		return nil, fmt.Errorf("store: query columns: %w", err)
	}
	defer rows.Close()

	var out []ColumnPoint
	for rows.Next() {
		var (
			p           ColumnPoint
			start, stop int64
			quality     int
		)
		if err := rows.Scan(&p.Entry, &p.Position, &p.Name, &start, &stop, &p.Column, &p.ColumnError, &quality); err != nil {
			return nil, fmt.Errorf("store: scan column: %w", err)
		}
		p.StartTime, p.StopTime = fromMillis(start), fromMillis(stop)
		p.Ok = scan.Quality(quality).Ok()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) exists(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scans WHERE id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("store: lookup scan: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ScanSummary describes one stored scan.
type ScanSummary struct {
	ID            string
	File          string
	Window        string
	EvaluatedAt   time.Time
	Spectra       int
	Corrupted     int
	MostAbsorbing int

	// Calibration is empty when the scan was evaluated without one.
	Calibration string
	Shift       float64
	Squeeze     float64
	Accepted    bool
}

// Scans lists stored scans in the order they were saved.
func (s *Store) Scans(ctx context.Context) ([]ScanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file, window_name, evaluated_at, most_absorbing,
			calibration, shift, squeeze, accepted,
			(SELECT count(*) FROM spectra sp WHERE sp.scan_id = s.id),
			(SELECT count(*) FROM corrupted c WHERE c.scan_id = s.id)
		FROM scans s ORDER BY evaluated_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: query scans: %w", err)
	}
	defer rows.Close()

	var out []ScanSummary
	for rows.Next() {
		var (
			sum            ScanSummary
			at             int64
			kind           sql.NullString
			shift, squeeze sql.NullFloat64
		)
		if err := rows.Scan(&sum.ID, &sum.File, &sum.Window, &at, &sum.MostAbsorbing,
			&kind, &shift, &squeeze, &sum.Accepted, &sum.Spectra, &sum.Corrupted); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		sum.EvaluatedAt = time.UnixMilli(at).UTC()
		sum.Calibration, sum.Shift, sum.Squeeze = kind.String, shift.Float64, squeeze.Float64
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteScan removes a scan and everything stored with it.
func (s *Store) DeleteScan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
