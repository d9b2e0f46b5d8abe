package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-doas/doas/dark"
	"github.com/cwbudde/algo-doas/doas/fit"
	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/prep"
	"github.com/cwbudde/algo-doas/doas/scan"
)

const full = `
workers: 4
scan:
  sky: average
  min_saturation: 0.1
  quality:
    max_chi_square: 0.01
dark:
  strategy: model_sometimes
  dark_current:
    source: user
    path: dc.std
  dark_current_correction: never
fit:
  max_steps: 200
reader:
  buffer_limit: 0
windows:
  - name: SO2
    fit_low: 320
    fit_high: 460
    poly_order: 3
    mode: poly
    find_optimal_shift: true
    fraunhofer: refs/sol.txt
    references:
      - name: SO2
        path: refs/so2.txt
        shift: {option: free}
        squeeze: {option: limit, value: 0.99, max: 1.01}
      - name: O3
        path: /abs/o3.txt
        column: {option: link, link: SO2}
        shift: {option: link, link: SO2}
  - name: BrO
    fit_low: 100
    fit_high: 200
    references:
      - name: BrO
        path: bro.txt
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(full), "/data")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workers != 4 {
		t.Fatalf("Workers = %d", cfg.Workers)
	}

	s, err := cfg.ScanSettings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Sky != scan.SkyAverageOfGood || s.MinSaturation != 0.1 || s.MainFitSteps != fit.DefaultMaxSteps {
		t.Fatalf("scan settings = %+v", s)
	}
	if s.Quality.MaxSaturation != 0.95 || s.Quality.MaxChiSquare != 0.01 {
		t.Fatalf("quality = %+v", s.Quality)
	}
	d := s.Dark
	if d.Strategy != dark.StrategyModelSometimes || d.DarkCurrentSource != dark.SourceUser ||
		d.DarkCurrentPath != filepath.Join("/data", "dc.std") || d.DarkCurrentCorrection != dark.CorrectionNever {
		t.Fatalf("dark settings = %+v", d)
	}

	ws, err := cfg.FitWindows()
	if err != nil {
		t.Fatal(err)
	}
	if len(ws) != 2 {
		t.Fatalf("got %d windows", len(ws))
	}
	w := ws[0]
	if w.Mode != prep.ModePolynomial || w.PolyOrder != 3 || !w.UV || !w.FindOptimalShift {
		t.Fatalf("window = %+v", w)
	}
	if w.Fraunhofer == nil || w.Fraunhofer.Path != filepath.Join("/data", "refs/sol.txt") || w.Fraunhofer.Name != fit.FraunhoferName {
		t.Fatalf("fraunhofer = %+v", w.Fraunhofer)
	}
	so2, o3 := w.References[0], w.References[1]
	if so2.Column.Option != fit.OptionFree || so2.Shift.Option != fit.OptionFree ||
		so2.Squeeze != fit.Limited(0.99, 1.01) {
		t.Fatalf("SO2 = %+v", so2)
	}
	if o3.Path != "/abs/o3.txt" || o3.Column != fit.Linked("SO2") || o3.Squeeze != fit.Fixed(1) {
		t.Fatalf("O3 = %+v", o3)
	}
	if bro := ws[1]; bro.PolyOrder != 5 || bro.Mode != prep.ModeHighPassDivide || bro.References[0].Shift != fit.Fixed(0) {
		t.Fatalf("defaults not applied: %+v", bro)
	}

	if w, err := cfg.Window("bro"); err != nil || w.Name != "BrO" {
		t.Fatalf("Window(bro) = %v, %v", w.Name, err)
	}
	if w, err := cfg.Window(""); err != nil || w.Name != "SO2" {
		t.Fatalf("Window() = %v, %v", w.Name, err)
	}
	if _, err := cfg.Window("NO2"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v", err)
	}
	if len(cfg.FitOptions()) != 3 || len(cfg.ReaderOptions()) != 1 {
		t.Fatal("options missing")
	}
	if *cfg.Reader.BufferLimit != 0 {
		t.Fatalf("buffer limit = %d", *cfg.Reader.BufferLimit)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
windows:
  - name: SO2
    fit_low: 100
    fit_high: 200
    references: [{name: SO2, path: so2.txt}]
`), "")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := cfg.ScanSettings()
	if s != scan.DefaultSettings() {
		t.Fatalf("settings = %+v, want defaults", s)
	}
	if *cfg.Reader.BufferLimit != pak.DefaultBufferLimit || cfg.Fit.ShiftSteps != fit.DefaultShiftSteps {
		t.Fatalf("reader/fit defaults = %+v %+v", cfg.Reader, cfg.Fit)
	}
	w, _ := cfg.Window("")
	if w.References[0].Path != "so2.txt" {
		t.Fatalf("path = %q", w.References[0].Path)
	}
}

func TestInvalid(t *testing.T) {
	window := `
windows:
  - name: SO2
    fit_low: 100
    fit_high: 200
    references: [{name: SO2, path: so2.txt}]
`
	cases := map[string]string{
		"no windows":     `scan: {sky: scan}`,
		"unknown sky":    `scan: {sky: zenith}` + window,
		"user sky":       `scan: {sky: user}` + window,
		"strategy":       `dark: {strategy: guess}` + window,
		"min saturation": `scan: {min_saturation: 1.5}` + window,
		"unknown field":  `colour: red` + window,
		"empty range": `
windows:
  - name: SO2
    fit_low: 200
    fit_high: 100
    references: [{name: SO2, path: so2.txt}]
`,
		"bad link": `
windows:
  - name: SO2
    fit_low: 100
    fit_high: 200
    references: [{name: SO2, path: so2.txt, shift: {option: link, link: NO2}}]
`,
		"bad option": `
windows:
  - name: SO2
    fit_low: 100
    fit_high: 200
    references: [{name: SO2, path: so2.txt, column: {option: sometimes}}]
`,
		"duplicate window": window + `
  - name: so2
    fit_low: 100
    fit_high: 200
    references: [{name: SO2, path: so2.txt}]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), ""); err == nil {
				t.Fatal("accepted")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doas.yaml")
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, _ := cfg.Window("BrO")
	if w.References[0].Path != filepath.Join(dir, "bro.txt") {
		t.Fatalf("path = %q", w.References[0].Path)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
