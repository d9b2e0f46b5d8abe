package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// WriteContainer writes specs as a scan container into a temporary
// directory and returns its path.
func WriteContainer(t *testing.T, name string, specs ...*spectrum.Spectrum) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	defer f.Close()

	w := pak.NewWriter(f, pak.WithCompression(true))
	for _, s := range specs {
		if err := w.Write(s); err != nil {
			t.Fatalf("write record %q: %v", s.Info.Name, err)
		}
	}
	return path
}

// Spectrum builds a spectrum for tests, panicking on invalid input.
func Spectrum(name string, data []float64, coadds, exposureMs int) *spectrum.Spectrum {
	s, err := spectrum.New(data, spectrum.Info{
		Name:          name,
		NumSpectra:    coadds,
		ExposureTime:  exposureMs,
		InterlaceStep: 1,
		Device:        "D2J2124",
	})
	if err != nil {
		panic(err)
	}
	return s
}
