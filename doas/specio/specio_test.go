package specio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-doas/doas/spectrum"
)

func sample(t *testing.T) *spectrum.Spectrum {
	t.Helper()
	s, err := spectrum.New([]float64{1.5, 2.25, -3, 1e5}, spectrum.Info{Name: "offset", NumSpectra: 100, ExposureTime: 3})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStructuredRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offset.std")
	if err := WriteStructured(path, sample(t)); err != nil {
		t.Fatalf("WriteStructured: %v", err)
	}
	got, err := ReadAny(path)
	if err != nil {
		t.Fatalf("ReadAny: %v", err)
	}
	if got.Info.NumSpectra != 100 || got.Info.Name != "offset" || got.Data[3] != 1e5 {
		t.Fatalf("unexpected spectrum: %+v %v", got.Info, got.Data)
	}
}

func TestTextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dark.txt")
	if err := WriteText(path, sample(t)); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	got, err := ReadAny(path)
	if err != nil {
		t.Fatalf("ReadAny: %v", err)
	}
	want := sample(t).Data
	if len(got.Data) != len(want) {
		t.Fatalf("len = %d, want %d", len(got.Data), len(want))
	}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got.Data[i], want[i])
		}
	}
	if got.Info.Name != "dark" || got.Info.NumSpectra != 1 {
		t.Fatalf("unexpected info: %+v", got.Info)
	}
}

func TestTextTwoColumnsAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "o3.xs")
	content := "# wavelength\tcross section\n\n300.0\t1.5e-19\n; note\n300.1  2.5e-19\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadText(path)
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if len(got.Data) != 2 || got.Data[0] != 1.5e-19 || got.Data[1] != 2.5e-19 {
		t.Fatalf("data = %v", got.Data)
	}
}

func TestReadAnyFailsWhenBothFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.txt")
	if err := os.WriteFile(path, []byte("not a number\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAny(path); err == nil {
		t.Fatal("expected error")
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAny(empty); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}
