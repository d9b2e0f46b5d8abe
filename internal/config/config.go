// Package config loads evaluation settings from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-doas/doas/dark"
	"github.com/cwbudde/algo-doas/doas/fit"
	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/scan"
)

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Scan    ScanConfig     `yaml:"scan"`
	Dark    DarkConfig     `yaml:"dark"`
	Fit     FitConfig      `yaml:"fit"`
	Reader  ReaderConfig   `yaml:"reader"`
	Windows []WindowConfig `yaml:"windows"`

	// Workers bounds concurrent scans in batch runs, 0 for one per CPU.
	Workers int `yaml:"workers"`

	dir string
}

// ScanConfig maps onto scan.Settings.
type ScanConfig struct {
	Sky             string        `yaml:"sky"` // scan | average | index | user
	SkyIndex        int           `yaml:"sky_index"`
	SkyPath         string        `yaml:"sky_path"`
	AveragedSpectra bool          `yaml:"averaged_spectra"`
	MinSaturation   *float64      `yaml:"min_saturation"`
	MainFitSteps    int           `yaml:"main_fit_steps"`
	Quality         QualityConfig `yaml:"quality"`
}

// QualityConfig holds goodness-of-fit thresholds, 0 disables a check.
type QualityConfig struct {
	MaxSaturation *float64 `yaml:"max_saturation"`
	MaxChiSquare  float64  `yaml:"max_chi_square"`
	MaxDelta      float64  `yaml:"max_delta"`
}

// DarkConfig maps onto dark.Settings.
type DarkConfig struct {
	Strategy              string       `yaml:"strategy"`
	Offset                SourceConfig `yaml:"offset"`
	DarkCurrent           SourceConfig `yaml:"dark_current"`
	Path                  string       `yaml:"path"`
	DarkCurrentCorrection string       `yaml:"dark_current_correction"` // auto | always | never
}

// SourceConfig selects a dark component.
type SourceConfig struct {
	Source string `yaml:"source"` // scan | user
	Path   string `yaml:"path"`
}

// FitConfig tunes the fit engine.
type FitConfig struct {
	MaxSteps     int     `yaml:"max_steps"`
	ShiftSteps   int     `yaml:"shift_steps"`
	MinChiSquare float64 `yaml:"min_chi_square"`
}

// ReaderConfig tunes container reading.
type ReaderConfig struct {
	BufferLimit *int `yaml:"buffer_limit"`
}

// WindowConfig maps onto fit.Window.
type WindowConfig struct {
	Name             string            `yaml:"name"`
	FitLow           int               `yaml:"fit_low"`
	FitHigh          int               `yaml:"fit_high"`
	PolyOrder        *int              `yaml:"poly_order"`
	Mode             string            `yaml:"mode"` // hp_div | hp_sub | poly
	UV               *bool             `yaml:"uv"`
	ShiftSky         bool              `yaml:"shift_sky"`
	FindOptimalShift bool              `yaml:"find_optimal_shift"`
	Fraunhofer       string            `yaml:"fraunhofer"`
	References       []ReferenceConfig `yaml:"references"`
}

// ReferenceConfig maps onto fit.Reference.
type ReferenceConfig struct {
	Name    string       `yaml:"name"`
	Path    string       `yaml:"path"`
	Column  *ParamConfig `yaml:"column"`
	Shift   *ParamConfig `yaml:"shift"`
	Squeeze *ParamConfig `yaml:"squeeze"`
}

// ParamConfig maps onto fit.Param.
type ParamConfig struct {
	Option string  `yaml:"option"` // free | fix | link | limit
	Value  float64 `yaml:"value"`
	Max    float64 `yaml:"max"`
	Link   string  `yaml:"link"`
}

// Load reads and validates the configuration at path. Relative file names
// inside it are resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes YAML data; relative paths are resolved against dir.
func Parse(data []byte, dir string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.dir = dir
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := scan.DefaultSettings()
	if c.Scan.MinSaturation == nil {
		c.Scan.MinSaturation = &def.MinSaturation
	}
	if c.Scan.MainFitSteps == 0 {
		c.Scan.MainFitSteps = def.MainFitSteps
	}
	if c.Scan.Quality.MaxSaturation == nil {
		c.Scan.Quality.MaxSaturation = &def.Quality.MaxSaturation
	}
	if c.Fit.MaxSteps == 0 {
		c.Fit.MaxSteps = fit.DefaultMaxSteps
	}
	if c.Fit.ShiftSteps == 0 {
		c.Fit.ShiftSteps = fit.DefaultShiftSteps
	}
	if c.Fit.MinChiSquare == 0 {
		c.Fit.MinChiSquare = fit.DefaultMinChiSquare
	}
	if c.Reader.BufferLimit == nil {
		n := pak.DefaultBufferLimit
		c.Reader.BufferLimit = &n
	}
	for i := range c.Windows {
		w := &c.Windows[i]
		if w.PolyOrder == nil {
			n := 5
			w.PolyOrder = &n
		}
		if w.UV == nil {
			uv := true
			w.UV = &uv
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and the windows it describes.
func (c *Config) Validate() error {
	if _, err := c.ScanSettings(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return invalid("workers %d", c.Workers)
	}
	if len(c.Windows) == 0 {
		return invalid("no fit window")
	}
	if _, err := c.FitWindows(); err != nil {
		return err
	}
	return nil
}

func (c *Config) path(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// DarkSettings converts the dark section.
func (c *Config) DarkSettings() (dark.Settings, error) {
	d := c.Dark
	st, err := dark.ParseStrategy(d.Strategy)
	if err != nil {
		return dark.Settings{}, invalid("dark: %v", err)
	}
	offSrc, err := dark.ParseSource(d.Offset.Source)
	if err != nil {
		return dark.Settings{}, invalid("offset: %v", err)
	}
	dcSrc, err := dark.ParseSource(d.DarkCurrent.Source)
	if err != nil {
		return dark.Settings{}, invalid("dark current: %v", err)
	}
	corr, err := dark.ParseCorrection(d.DarkCurrentCorrection)
	if err != nil {
		return dark.Settings{}, invalid("%v", err)
	}
	return dark.Settings{
		Strategy:              st,
		OffsetSource:          offSrc,
		OffsetPath:            c.path(d.Offset.Path),
		DarkCurrentSource:     dcSrc,
		DarkCurrentPath:       c.path(d.DarkCurrent.Path),
		DarkPath:              c.path(d.Path),
		DarkCurrentCorrection: corr,
	}, nil
}

// ScanSettings converts the scan and dark sections.
func (c *Config) ScanSettings() (scan.Settings, error) {
	ds, err := c.DarkSettings()
	if err != nil {
		return scan.Settings{}, err
	}
	sky, err := scan.ParseSkyOption(c.Scan.Sky)
	if err != nil {
		return scan.Settings{}, invalid("%v", err)
	}
	if sky == scan.SkyUser && strings.TrimSpace(c.Scan.SkyPath) == "" {
		return scan.Settings{}, invalid("user sky without sky_path")
	}
	if sky == scan.SkyIndex && c.Scan.SkyIndex < 0 {
		return scan.Settings{}, invalid("sky_index %d", c.Scan.SkyIndex)
	}
	minSat, maxSat := deref(c.Scan.MinSaturation), deref(c.Scan.Quality.MaxSaturation)
	if minSat < 0 || minSat >= 1 {
		return scan.Settings{}, invalid("min_saturation %v outside [0,1)", minSat)
	}
	if maxSat < 0 {
		return scan.Settings{}, invalid("max_saturation %v", maxSat)
	}
	return scan.Settings{
		Sky:             sky,
		SkyIndex:        c.Scan.SkyIndex,
		SkyPath:         c.path(c.Scan.SkyPath),
		Dark:            ds,
		AveragedSpectra: c.Scan.AveragedSpectra,
		MinSaturation:   minSat,
		MainFitSteps:    c.Scan.MainFitSteps,
		Quality: scan.QualitySettings{
			MaxSaturation: maxSat,
			MaxChiSquare:  c.Scan.Quality.MaxChiSquare,
			MaxDelta:      c.Scan.Quality.MaxDelta,
		},
	}, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// FitOptions returns the fit engine options.
func (c *Config) FitOptions() []fit.Option {
	return []fit.Option{
		fit.WithMaxSteps(c.Fit.MaxSteps),
		fit.WithShiftSteps(c.Fit.ShiftSteps),
		fit.WithMinChiSquare(c.Fit.MinChiSquare),
	}
}

// ReaderOptions returns the container reader options.
func (c *Config) ReaderOptions() []pak.Option {
	return []pak.Option{pak.WithBufferLimit(deref(c.Reader.BufferLimit))}
}

// FitWindows converts all windows. Reference spectra are not read here;
// the fit engine loads them from their paths.
func (c *Config) FitWindows() ([]fit.Window, error) {
	out := make([]fit.Window, 0, len(c.Windows))
	seen := map[string]bool{}
	for i, wc := range c.Windows {
		w, err := c.window(wc)
		if err != nil {
			return nil, fmt.Errorf("window %d (%s): %w", i, wc.Name, err)
		}
		key := strings.ToLower(w.Name)
		if seen[key] {
			return nil, invalid("duplicate window %q", w.Name)
		}
		seen[key] = true
		out = append(out, w)
	}
	return out, nil
}

// Window returns the window called name, or the first window when name is
// empty.
func (c *Config) Window(name string) (fit.Window, error) {
	ws, err := c.FitWindows()
	if err != nil {
		return fit.Window{}, err
	}
	if name == "" {
		return ws[0], nil
	}
	for _, w := range ws {
		if strings.EqualFold(w.Name, name) {
			return w, nil
		}
	}
	return fit.Window{}, invalid("no window %q", name)
}

func (c *Config) window(wc WindowConfig) (fit.Window, error) {
	if strings.TrimSpace(wc.Name) == "" {
		return fit.Window{}, invalid("unnamed window")
	}
	mode, err := prep.ParseMode(wc.Mode)
	if err != nil {
		return fit.Window{}, invalid("%v", err)
	}
	if len(wc.References) == 0 {
		return fit.Window{}, invalid("no references")
	}
	w := fit.Window{
		Name:             wc.Name,
		FitLow:           wc.FitLow,
		FitHigh:          wc.FitHigh,
		PolyOrder:        deref(wc.PolyOrder),
		Mode:             mode,
		UV:               deref(wc.UV),
		ShiftSky:         wc.ShiftSky,
		FindOptimalShift: wc.FindOptimalShift,
	}
	for _, rc := range wc.References {
		if strings.TrimSpace(rc.Path) == "" {
			return fit.Window{}, invalid("reference %q without path", rc.Name)
		}
		ref := fit.Reference{Name: rc.Name, Path: c.path(rc.Path)}
		if ref.Column, err = param(rc.Column, fit.Free()); err != nil {
			return fit.Window{}, err
		}
		if ref.Shift, err = param(rc.Shift, fit.Fixed(0)); err != nil {
			return fit.Window{}, err
		}
		if ref.Squeeze, err = param(rc.Squeeze, fit.Fixed(1)); err != nil {
			return fit.Window{}, err
		}
		w.References = append(w.References, ref)
	}
	if p := strings.TrimSpace(wc.Fraunhofer); p != "" {
		w.Fraunhofer = &fit.Reference{Name: fit.FraunhoferName, Path: c.path(p)}
	}
	if err := w.Validate(); err != nil {
		return fit.Window{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return w, nil
}

func param(pc *ParamConfig, def fit.Param) (fit.Param, error) {
	if pc == nil {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(pc.Option)) {
	case "", "free":
		return fit.Free(), nil
	case "fix", "fixed":
		return fit.Fixed(pc.Value), nil
	case "link", "linked":
		if strings.TrimSpace(pc.Link) == "" {
			return fit.Param{}, invalid("link without target")
		}
		return fit.Linked(pc.Link), nil
	case "limit", "limited":
		if pc.Max < pc.Value {
			return fit.Param{}, invalid("limit [%v,%v]", pc.Value, pc.Max)
		}
		return fit.Limited(pc.Value, pc.Max), nil
	}
	return fit.Param{}, invalid("unknown parameter option %q", pc.Option)
}
