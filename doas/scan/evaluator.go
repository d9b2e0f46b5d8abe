package scan

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/algo-doas/doas/dark"
	"github.com/cwbudde/algo-doas/doas/fit"
	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/specio"
	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// Errors returned by scan evaluation.
var (
	ErrSky                    = errors.New("scan: no usable sky spectrum")
	ErrDark                   = errors.New("scan: dark correction failed")
	ErrNoCalibrationCandidate = errors.New("scan: no spectrum suitable for calibration")
	ErrNotInitialized         = errors.New("scan: reader holds no records")
)

// Saturation bounds of a spectrum used for the wavelength calibration.
const (
	calibrationMinSaturation = 0.1
	calibrationMaxSaturation = 0.9

	// Acceptance limits of a calibration fit.
	calibrationMaxShiftError   = 1.0
	calibrationMaxSqueezeError = 0.01
)

// InstrumentLookup returns the dynamic range of one exposure of the named
// device.
type InstrumentLookup func(device string) float64

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStatistics collects counters into s.
func WithStatistics(s *Statistics) Option {
	return func(e *Evaluator) {
		e.stats = s
	}
}

// WithInstrumentLookup replaces the serial-number based dynamic range lookup.
func WithInstrumentLookup(f InstrumentLookup) Option {
	return func(e *Evaluator) {
		if f != nil {
			e.maxIntensity = f
		}
	}
}

// WithFitOptions passes options to every fit evaluator created.
func WithFitOptions(opts ...fit.Option) Option {
	return func(e *Evaluator) {
		e.fitOpts = append(e.fitOpts, opts...)
	}
}

// WithDarkOptions passes options to the dark resolver.
func WithDarkOptions(opts ...dark.Option) Option {
	return func(e *Evaluator) {
		e.darkOpts = append(e.darkOpts, opts...)
	}
}

// Evaluator evaluates scans with fixed settings.
type Evaluator struct {
	settings     Settings
	logger       *slog.Logger
	stats        *Statistics
	maxIntensity InstrumentLookup
	fitOpts      []fit.Option
	darkOpts     []dark.Option
	resolver     *dark.Resolver
}

// New returns an Evaluator for settings.
func New(settings Settings, opts ...Option) *Evaluator {
	if settings.MainFitSteps <= 0 {
		settings.MainFitSteps = fit.DefaultMaxSteps
	}
	e := &Evaluator{
		settings: settings,
		logger:   slog.Default(),
		maxIntensity: func(device string) float64 {
			return spectrum.GuessModel(device).MaxIntensity()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = dark.NewResolver(settings.Dark, append([]dark.Option{dark.WithLogger(e.logger)}, e.darkOpts...)...)
	return e
}

// Settings returns the evaluator configuration.
func (e *Evaluator) Settings() Settings {
	return e.settings
}

// scanState is the per-scan working set shared by the passes.
type scanState struct {
	r      *pak.Reader
	window fit.Window
	sky    *spectrum.Spectrum

	// rawSky is the acquired sky before dark correction and skyPos its
	// position in the scan, -1 for user and averaged skies.
	rawSky *spectrum.Spectrum
	skyPos int
}

// EvaluateScan evaluates every measurement of r with window w.
func (e *Evaluator) EvaluateScan(r *pak.Reader, w fit.Window) (*Result, error) {
	if r.Count() <= 0 {
		return nil, ErrNotInitialized
	}
	start := time.Now()
	log := e.logger.With("scan", r.Name(), "window", w.Name)

	w = adjustWindow(r, w)
	if err := w.Validate(); err != nil {
		return nil, err
	}

	st, darkInfo, err := e.prepareSky(r, w)
	if err != nil {
		e.stats.scanFailed()
		return nil, err
	}

	var calib *Calibration
	switch {
	case w.HasCalibration():
		calib, st.window, err = e.calibrate(st, log)
		if err != nil {
			e.stats.scanFailed()
			return nil, err
		}
	case w.FindOptimalShift:
		pinned := pinWindow(w)
		st.window = pinned
		first, err := e.pass(st, nil, log)
		if err != nil {
			e.stats.scanFailed()
			return nil, err
		}
		calib, st.window, err = e.optimalShift(st, w, first, log)
		if err != nil {
			e.stats.scanFailed()
			return nil, err
		}
		if !calib.Accepted {
			st.window = pinned
		}
	}

	res, err := e.pass(st, e.stats, log)
	if err != nil {
		e.stats.scanFailed()
		return nil, err
	}
	res.Sky = st.rawSky.Info
	res.Dark = darkInfo
	res.Calibration = calib

	e.stats.scanDone(res, time.Since(start))
	log.Info("scan evaluated",
		"spectra", res.Len(),
		"corrupted", len(res.Corrupted),
		"most_absorbing", res.MostAbsorbing,
		"elapsed", time.Since(start))
	return res, nil
}

// adjustWindow takes length, start channel and interlace step of the
// window from the scan. Interlaced scans are evaluated at full resolution.
func adjustWindow(r *pak.Reader, w fit.Window) fit.Window {
	w = w.Clone()
	step := max(r.InterlaceStep(), 1)
	w.InterlaceStep = step
	if n := r.SpectrumLength(); n > 0 {
		w.SpecLength = n * step
	}
	if sc := r.StartChannel(); sc >= 0 {
		w.StartChannel = sc - sc%step
	}
	return w
}

// pinWindow fixes every shift to zero and every squeeze to one.
func pinWindow(w fit.Window) fit.Window {
	p := w.Clone()
	for i := range p.References {
		p.References[i].Shift = fit.Fixed(0)
		p.References[i].Squeeze = fit.Fixed(1)
	}
	return p
}

// perExposure divides s by its co-add count unless spectra are stored as
// averages.
func (e *Evaluator) perExposure(s *spectrum.Spectrum) {
	if e.settings.AveragedSpectra || s.Info.NumSpectra <= 0 {
		return
	}
	_ = s.DivScalar(float64(s.Info.NumSpectra))
}

// prepareSky acquires the sky and turns it into a dark corrected spectrum
// of one exposure. It also returns the dark subtracted from the sky.
func (e *Evaluator) prepareSky(r *pak.Reader, w fit.Window) (*scanState, spectrum.Info, error) {
	raw, pos, err := e.acquireSky(r, w)
	if err != nil {
		return nil, spectrum.Info{}, err
	}
	if err := prep.ExpandInterlaced(raw); err != nil {
		return nil, spectrum.Info{}, fmt.Errorf("%w: %w", ErrSky, err)
	}
	sky := raw.Clone()

	var darkInfo spectrum.Info
	if e.settings.Sky != SkyUser {
		d, err := e.resolver.Resolve(r, sky)
		if err != nil {
			return nil, spectrum.Info{}, fmt.Errorf("%w: sky: %w", ErrDark, err)
		}
		if err := sky.Sub(d); err != nil {
			return nil, spectrum.Info{}, fmt.Errorf("%w: sky: %w", ErrDark, err)
		}
		darkInfo = d.Info
	}
	e.perExposure(sky)
	return &scanState{r: r, window: w, sky: sky, rawSky: raw, skyPos: pos}, darkInfo, nil
}

// acquireSky returns the sky selected by the settings and its position in
// r, or -1 when it does not come from a single record of r.
func (e *Evaluator) acquireSky(r *pak.Reader, w fit.Window) (*spectrum.Spectrum, int, error) {
	switch e.settings.Sky {
	case SkyScan:
		if s, ok := r.Sky(); ok {
			return s, r.SkyIndex(), nil
		}
		return nil, -1, fmt.Errorf("%w: scan %s has no sky record", ErrSky, r.Name())
	case SkyAverageOfGood:
		s, err := e.averageOfGood(r, w)
		return s, -1, err
	case SkyIndex:
		s, err := r.At(e.settings.SkyIndex)
		if err != nil {
			return nil, -1, fmt.Errorf("%w: %w", ErrSky, err)
		}
		return s, e.settings.SkyIndex, nil
	case SkyUser:
		s, err := readUserSky(e.settings.SkyPath)
		if err != nil {
			return nil, -1, fmt.Errorf("%w: %w", ErrSky, err)
		}
		return s, -1, nil
	}
	return nil, -1, fmt.Errorf("%w: unknown sky option %v", ErrSky, e.settings.Sky)
}

// readUserSky reads the first record of a container or a single spectrum
// file.
func readUserSky(path string) (*spectrum.Spectrum, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("no sky path configured")
	}
	if !strings.EqualFold(filepath.Ext(path), ".pak") {
		return specio.ReadAny(path)
	}
	r, err := pak.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.At(0)
}

// averageOfGood sums the sky record and every measurement whose fit region
// stays below the dynamic range of its co-added exposures.
func (e *Evaluator) averageOfGood(r *pak.Reader, w fit.Window) (*spectrum.Spectrum, error) {
	var sum *spectrum.Spectrum
	add := func(s *spectrum.Spectrum) {
		if s.IsDark() {
			return
		}
		if err := prep.ExpandInterlaced(s); err != nil {
			return
		}
		lo, hi := w.FitRange()
		peak, err := s.Max(lo, hi)
		if err != nil || peak >= e.maxIntensity(s.Info.Device)*float64(max(s.Info.NumSpectra, 1)) {
			return
		}
		if sum == nil {
			sum = s.Clone()
			return
		}
		if sum.Add(s) != nil {
			return
		}
		sum.Info.NumSpectra += s.Info.NumSpectra
		sum.Info.StopTime = s.Info.StopTime
	}

	if s, ok := r.Sky(); ok {
		add(s)
	}
	r.Reset()
	defer r.Reset()
	for {
		s, err := r.Next()
		if errors.Is(err, pak.ErrEndOfData) {
			break
		}
		if err != nil {
			continue
		}
		add(s)
	}
	if sum == nil {
		return nil, fmt.Errorf("%w: no unsaturated spectrum in %s", ErrSky, r.Name())
	}
	sum.Info.Name = "sky"
	return sum, nil
}

// correct expands s, resolves its dark and returns s and the dark as
// spectra of one exposure each. s is modified in place.
func (e *Evaluator) correct(r *pak.Reader, s *spectrum.Spectrum) (*spectrum.Spectrum, error) {
	if err := prep.ExpandInterlaced(s); err != nil {
		return nil, err
	}
	d, err := e.resolver.Resolve(r, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDark, err)
	}
	e.perExposure(s)
	e.perExposure(d)
	return d, nil
}

// ignored reports whether the fit-region signal above the dark stays below
// the configured fraction of the dynamic range. Both spectra hold one
// exposure.
func (e *Evaluator) ignored(s, d *spectrum.Spectrum, lo, hi int) bool {
	top, err := s.Max(lo, hi)
	if err != nil {
		return true
	}
	floor, err := d.Min(lo, hi)
	if err != nil {
		floor = 0
	}
	return top-floor < e.maxIntensity(s.Info.Device)*e.settings.MinSaturation
}

func (e *Evaluator) quality(info spectrum.Info, r fit.Result) Quality {
	q := e.settings.Quality
	var flags Quality
	if q.MaxSaturation > 0 {
		full := e.maxIntensity(info.Device) * float64(max(info.NumSpectra, 1))
		if e.settings.AveragedSpectra {
			full = e.maxIntensity(info.Device)
		}
		if info.FitIntensity > q.MaxSaturation*full {
			flags |= QualitySaturated
		}
	}
	if q.MaxChiSquare > 0 && r.ChiSquare > q.MaxChiSquare {
		flags |= QualityHighChiSquare
	}
	if q.MaxDelta > 0 && r.Delta > q.MaxDelta {
		flags |= QualityHighDelta
	}
	return flags
}

// pass evaluates every measurement of the scan with st.window. Counters go
// to stats, which may be nil.
func (e *Evaluator) pass(st *scanState, stats *Statistics, log *slog.Logger) (*Result, error) {
	fe, err := fit.New(st.window, e.fitOpts...)
	if err != nil {
		return nil, err
	}
	if err := fe.SetSky(st.sky); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSky, err)
	}

	r := st.r
	res := newResult(r.Path(), st.window)
	lo, hi := st.window.FitRange()
	highest := math.Inf(-1)

	r.Reset()
	defer r.Reset()
	for {
		s, err := r.Next()
		if errors.Is(err, pak.ErrEndOfData) || errors.Is(err, pak.ErrNotFound) {
			break
		}
		if err != nil {
			var rerr *pak.RecordError
			if !errors.As(err, &rerr) {
				return nil, err
			}
			log.Warn("corrupted spectrum", "position", rerr.Index, "err", rerr.Err)
			res.markCorrupted(rerr.Index)
			stats.add(func(c *Counters) { c.Corrupted++ })
			continue
		}
		pos := s.Info.ScanIndex
		if pos == st.skyPos || pos == r.DarkIndex() {
			continue
		}

		if err := prep.ExpandInterlaced(s); err != nil {
			log.Warn("cannot expand spectrum", "position", pos, "err", err)
			res.markCorrupted(pos)
			continue
		}
		if n := st.window.SpecLength; n > 0 && s.Len() != n {
			log.Warn("spectrum length differs from scan",
				"position", pos, "samples", s.Len(), "want", st.window.SpecLength)
			res.markCorrupted(pos)
			stats.add(func(c *Counters) { c.Corrupted++ })
			continue
		}
		if peak, err := s.Max(0, s.Len()-2); err == nil {
			s.Info.PeakIntensity = peak
		}
		if v, err := s.Max(lo, hi); err == nil {
			s.Info.FitIntensity = v
		}
		raw := s.Info

		d, err := e.correct(r, s)
		if err != nil {
			return nil, err
		}
		if d.Len() != s.Len() {
			log.Warn("dark length differs from spectrum",
				"position", pos, "samples", s.Len(), "dark_samples", d.Len())
			res.markCorrupted(pos)
			stats.add(func(c *Counters) { c.Corrupted++ })
			continue
		}
		if e.ignored(s, d, lo, hi) {
			log.Debug("spectrum below minimum signal", "position", pos)
			stats.add(func(c *Counters) { c.Ignored++ })
			continue
		}
		if err := s.Sub(d); err != nil {
			return nil, fmt.Errorf("%w: position %d: %w", ErrDark, pos, err)
		}

		fr, err := fe.Evaluate(s, e.settings.MainFitSteps)
		if err != nil {
			log.Warn("fit failed", "position", pos, "err", err)
			stats.add(func(c *Counters) { c.FailedFits++ })
			continue
		}

		q := e.quality(raw, fr)
		res.Entries = append(res.Entries, Entry{Info: raw, Fit: fr, Quality: q})
		if q.Ok() && len(fr.References) > 0 {
			if c := math.Abs(fr.References[0].Column); c > highest {
				highest = c
				res.MostAbsorbing = pos
				res.MostAbsorbingEntry = len(res.Entries) - 1
			}
		}
	}
	return res, nil
}

// calibrate determines shift and squeeze from the best exposed spectrum
// and locks them into the returned window when the fit is trustworthy.
func (e *Evaluator) calibrate(st *scanState, log *slog.Logger) (*Calibration, fit.Window, error) {
	r, w := st.r, st.window
	lo, hi := w.FitRange()

	best, bestPos, bestSat := (*spectrum.Spectrum)(nil), -1, 0.0
	bestIsSky := false
	consider := func(s *spectrum.Spectrum, pos int, isSky bool) {
		if prep.ExpandInterlaced(s) != nil {
			return
		}
		top, err := s.Max(lo, hi)
		if err != nil {
			return
		}
		full := e.maxIntensity(s.Info.Device)
		if !e.settings.AveragedSpectra {
			full *= float64(max(s.Info.NumSpectra, 1))
		}
		sat := top / full
		if sat <= calibrationMinSaturation || sat >= calibrationMaxSaturation || sat <= bestSat {
			return
		}
		best, bestPos, bestSat, bestIsSky = s, pos, sat, isSky
	}

	consider(st.rawSky.Clone(), st.skyPos, true)
	r.Reset()
	for {
		s, err := r.Next()
		if errors.Is(err, pak.ErrEndOfData) {
			break
		}
		if err != nil || s.Info.ScanIndex == st.skyPos {
			continue
		}
		consider(s, s.Info.ScanIndex, false)
	}
	r.Reset()
	if best == nil {
		return nil, w, fmt.Errorf("%w: %s", ErrNoCalibrationCandidate, r.Name())
	}

	if bestIsSky {
		best = st.sky.Clone()
	} else {
		d, err := e.resolver.Resolve(r, best)
		if err != nil {
			return nil, w, fmt.Errorf("%w: calibration: %w", ErrDark, err)
		}
		e.perExposure(best)
		e.perExposure(d)
		if err := best.Sub(d); err != nil {
			return nil, w, fmt.Errorf("%w: calibration: %w", ErrDark, err)
		}
	}

	calib := &Calibration{Kind: CalibrationFraunhofer, Position: bestPos, Squeeze: 1}
	fe, err := fit.New(w, e.fitOpts...)
	if err != nil {
		return nil, w, err
	}
	sr, err := fe.EvaluateShift(best)
	if err != nil {
		log.Warn("calibration fit failed, using configured shifts", "position", bestPos, "err", err)
		return calib, w, nil
	}
	calib.Shift, calib.ShiftError = sr.Shift, sr.ShiftError
	calib.Squeeze, calib.SqueezeError = sr.Squeeze, sr.SqueezeError

	if math.Abs(sr.ShiftError) >= calibrationMaxShiftError || math.Abs(sr.SqueezeError) >= calibrationMaxSqueezeError {
		log.Warn("calibration too uncertain, using configured shifts",
			"shift", sr.Shift, "shift_error", sr.ShiftError,
			"squeeze", sr.Squeeze, "squeeze_error", sr.SqueezeError)
		return calib, w, nil
	}

	calib.Accepted = true
	out := w.Clone()
	for i := range out.References {
		out.References[i].Shift = fit.Fixed(sr.Shift)
		out.References[i].Squeeze = fit.Fixed(sr.Squeeze)
	}
	log.Info("calibrated", "position", bestPos, "shift", sr.Shift, "squeeze", sr.Squeeze)
	return calib, out, nil
}

// optimalShift refits the most absorbing spectrum of first with a free
// shift of the first reference and returns w with every ordinary reference
// fixed to the result.
func (e *Evaluator) optimalShift(st *scanState, w fit.Window, first *Result, log *slog.Logger) (*Calibration, fit.Window, error) {
	calib := &Calibration{Kind: CalibrationOptimalShift, Position: first.MostAbsorbing, Squeeze: 1}
	if first.MostAbsorbing < 0 || len(w.References) == 0 {
		log.Warn("no spectrum to refine the shift on")
		return calib, w, nil
	}
	col := first.Column(first.MostAbsorbingEntry, 0)
	colErr := first.ColumnError(first.MostAbsorbingEntry, 0)
	if math.Abs(col) < 2*colErr {
		log.Info("absorption too weak to refine the shift", "column", col, "column_error", colErr)
		return calib, w, nil
	}

	refine := w.Clone()
	lead := refine.References[0].Name
	refine.References[0].Shift = fit.Free()
	refine.References[0].Squeeze = fit.Fixed(1)
	for i := 1; i < len(refine.References); i++ {
		if strings.EqualFold(refine.References[i].Name, fit.FraunhoferName) {
			continue
		}
		refine.References[i].Shift = fit.Linked(lead)
		refine.References[i].Squeeze = fit.Linked(lead)
	}

	s, err := st.r.At(first.MostAbsorbing)
	if err != nil {
		log.Warn("cannot reread most absorbing spectrum", "position", first.MostAbsorbing, "err", err)
		return calib, w, nil
	}
	d, err := e.correct(st.r, s)
	if err != nil {
		return nil, w, err
	}
	if err := s.Sub(d); err != nil {
		return nil, w, fmt.Errorf("%w: %w", ErrDark, err)
	}

	fe, err := fit.New(refine, e.fitOpts...)
	if err != nil {
		return nil, w, err
	}
	if err := fe.SetSky(st.sky); err != nil {
		return nil, w, fmt.Errorf("%w: %w", ErrSky, err)
	}
	fr, err := fe.Evaluate(s, fit.DefaultShiftSteps)
	if err != nil {
		log.Warn("shift refinement failed", "position", first.MostAbsorbing, "err", err)
		return calib, w, nil
	}

	ref := fr.References[0]
	calib.Shift, calib.ShiftError = ref.Shift, ref.ShiftError
	calib.Squeeze, calib.SqueezeError = ref.Squeeze, ref.SqueezeError
	calib.Accepted = true

	out := w.Clone()
	for i := range out.References {
		if strings.EqualFold(out.References[i].Name, fit.FraunhoferName) {
			continue
		}
		out.References[i].Shift = fit.Fixed(ref.Shift)
		out.References[i].Squeeze = fit.Fixed(ref.Squeeze)
	}
	log.Info("optimal shift found", "position", first.MostAbsorbing, "shift", ref.Shift, "squeeze", ref.Squeeze)
	return calib, out, nil
}
