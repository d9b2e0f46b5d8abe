package dark

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/specio"
	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// Errors returned by the resolver.
var (
	ErrNoPath              = errors.New("dark: path not set")
	ErrRead                = errors.New("dark: cannot read spectrum")
	ErrMissing             = errors.New("dark: offset or dark current missing")
	ErrUnsupportedStrategy = errors.New("dark: unsupported strategy")
	ErrInvalidDarkCurrent  = errors.New("dark: invalid dark-current exposure")
)

// ScanSource exposes the role-tagged records of a scan.
type ScanSource interface {
	Dark() (*spectrum.Spectrum, bool)
	Offset() (*spectrum.Spectrum, bool)
	DarkCurrent() (*spectrum.Spectrum, bool)
}

// FileReader loads a spectrum from disk.
type FileReader func(path string) (*spectrum.Spectrum, error)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for configuration warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFileReader replaces the reader used for user-supplied spectra.
func WithFileReader(f FileReader) Option {
	return func(r *Resolver) {
		if f != nil {
			r.read = f
		}
	}
}

// Resolver produces dark spectra according to Settings.
type Resolver struct {
	settings Settings
	logger   *slog.Logger
	read     FileReader
}

// NewResolver returns a Resolver for s.
func NewResolver(s Settings, opts ...Option) *Resolver {
	r := &Resolver{settings: s, logger: slog.Default(), read: specio.ReadAny}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Settings returns the resolver configuration.
func (r *Resolver) Settings() Settings {
	return r.settings
}

// Resolve returns a new dark spectrum matching meas.
func (r *Resolver) Resolve(scan ScanSource, meas *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	var (
		d   *spectrum.Spectrum
		err error
	)
	switch r.settings.Strategy {
	case StrategyMeasured, StrategyModelSometimes:
		d, err = r.measured(scan, meas)
	case StrategyModelAlways:
		d, err = r.modelAlways(scan, meas)
	case StrategyUserSupplied:
		d, err = r.readFile(r.settings.DarkPath, "dark")
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedStrategy, r.settings.Strategy)
	}
	if err != nil {
		return nil, err
	}
	return r.finish(d, meas)
}

func (r *Resolver) measured(scan ScanSource, meas *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	if d, ok := scan.Dark(); ok {
		return d, nil
	}

	offset, okOff := scan.Offset()
	dc, okDC := scan.DarkCurrent()
	if okOff && okDC {
		r.logger.Warn("scan holds offset and dark current but no dark; modelling the dark",
			"strategy", r.settings.Strategy.String())
		return model(offset, dc, meas, r.settings.DarkCurrentCorrection.applies(SourceScan))
	}

	r.logger.Warn("no dark spectrum found; continuing without dark correction",
		"index", meas.Info.ScanIndex)
	return spectrum.Zeros(meas.Len(), spectrum.Info{
		Name:          "dark",
		NumSpectra:    meas.Info.NumSpectra,
		ExposureTime:  meas.Info.ExposureTime,
		InterlaceStep: 1,
		StartChannel:  meas.Info.StartChannel,
	}), nil
}

func (r *Resolver) modelAlways(scan ScanSource, meas *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	offset, err := r.component(scan.Offset, r.settings.OffsetSource, r.settings.OffsetPath, "offset")
	if err != nil {
		return nil, err
	}
	dc, err := r.component(scan.DarkCurrent, r.settings.DarkCurrentSource, r.settings.DarkCurrentPath, "dark current")
	if err != nil {
		return nil, err
	}
	return model(offset, dc, meas, r.settings.DarkCurrentCorrection.applies(r.settings.DarkCurrentSource))
}

func (r *Resolver) component(fromScan func() (*spectrum.Spectrum, bool), src Source, path, what string) (*spectrum.Spectrum, error) {
	if src == SourceUser {
		return r.readFile(path, what)
	}
	s, ok := fromScan()
	if !ok {
		return nil, fmt.Errorf("%w: no %s record in scan", ErrMissing, what)
	}
	return s, nil
}

func (r *Resolver) readFile(path, what string) (*spectrum.Spectrum, error) {
	if len(strings.TrimSpace(path)) < 3 {
		return nil, fmt.Errorf("%w: %s path %q", ErrNoPath, what, path)
	}
	s, err := r.read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRead, what, path, err)
	}
	if s.Info.NumSpectra <= 0 {
		s.Info.NumSpectra = 1
	}
	return s, nil
}

// model synthesises a dark from offset and dark current for meas.
func model(offset, dc *spectrum.Spectrum, meas *spectrum.Spectrum, correct bool) (*spectrum.Spectrum, error) {
	nOff := float64(max(offset.Info.NumSpectra, 1))
	nDC := float64(dc.Info.NumSpectra)
	tDC := float64(dc.Info.ExposureTime)
	if nDC <= 0 || tDC <= 0 {
		return nil, fmt.Errorf("%w: %d co-adds, %d ms", ErrInvalidDarkCurrent, dc.Info.NumSpectra, dc.Info.ExposureTime)
	}
	if offset.Len() != dc.Len() {
		return nil, fmt.Errorf("dark: %w: offset %d, dark current %d", spectrum.ErrLengthMismatch, offset.Len(), dc.Len())
	}

	nMeas := float64(meas.Info.NumSpectra)
	tMeas := float64(meas.Info.ExposureTime)

	cur := dc.Clone()
	if correct {
		o := offset.Clone()
		o.Scale(nDC / nOff)
		if err := cur.Sub(o); err != nil {
			return nil, err
		}
	}
	cur.Scale((nMeas * tMeas) / (nDC * tDC))

	d := offset.Clone()
	d.Scale(nMeas / nOff)
	if err := d.Add(cur); err != nil {
		return nil, err
	}
	d.Info.Name = "dark"
	d.Info.NumSpectra = meas.Info.NumSpectra
	d.Info.ExposureTime = meas.Info.ExposureTime
	return d, nil
}

// finish expands interlaced darks, warns about exposure mismatches and
// rescales the co-add count to the measurement.
func (r *Resolver) finish(d, meas *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	d = d.Clone()
	if err := prep.ExpandInterlaced(d); err != nil {
		return nil, fmt.Errorf("dark: %w", err)
	}
	if d.Info.ExposureTime != meas.Info.ExposureTime {
		r.logger.Warn("dark exposure time differs from measurement",
			"dark_ms", d.Info.ExposureTime, "measurement_ms", meas.Info.ExposureTime, "index", meas.Info.ScanIndex)
	}
	if n := d.Info.NumSpectra; n > 0 && meas.Info.NumSpectra > 0 && n != meas.Info.NumSpectra {
		d.Scale(float64(meas.Info.NumSpectra) / float64(n))
		d.Info.NumSpectra = meas.Info.NumSpectra
	}
	return d, nil
}
