package pak

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/algo-doas/doas/spectrum"
)

func makeSpec(name string, n int, level float64) *spectrum.Spectrum {
	s := spectrum.Zeros(n, spectrum.Info{
		Name:          name,
		NumSpectra:    15,
		ExposureTime:  120,
		Channel:       0,
		InterlaceStep: 1,
		Device:        "I2J5678",
		StartTime:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		StopTime:      time.Date(2024, 3, 1, 10, 0, 2, 0, time.UTC),
	})
	for i := range s.Data {
		s.Data[i] = level + float64(i)
	}
	return s
}

func writeContainer(t *testing.T, specs []*spectrum.Spectrum, opts ...WriterOption) string {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, opts...)
	for _, s := range specs {
		if err := w.Write(s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "scan.pak")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRecordRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		s := makeSpec("zenith", 64, 1000)
		s.Info.StartChannel = 12

		var buf bytes.Buffer
		if err := EncodeRecord(&buf, s, compress); err != nil {
			t.Fatalf("EncodeRecord: %v", err)
		}
		got, err := DecodeRecord(&buf)
		if err != nil {
			t.Fatalf("DecodeRecord(compress=%v): %v", compress, err)
		}
		if got.Info.Name != "zenith" || got.Info.StartChannel != 12 || got.Info.NumSpectra != 15 {
			t.Fatalf("unexpected info: %+v", got.Info)
		}
		if !got.Info.StartTime.Equal(s.Info.StartTime) {
			t.Fatalf("StartTime = %v, want %v", got.Info.StartTime, s.Info.StartTime)
		}
		if got.Info.Model != spectrum.ModelS2000 {
			t.Fatalf("Model = %v, want S2000", got.Info.Model)
		}
		for i := range s.Data {
			if got.Data[i] != s.Data[i] {
				t.Fatalf("sample %d: got %v, want %v", i, got.Data[i], s.Data[i])
			}
		}
	}
}

func TestEncodeRejectsLongName(t *testing.T) {
	s := makeSpec("a name that is far too long", 4, 0)
	if err := EncodeRecord(&bytes.Buffer{}, s, false); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestEncodeRejectsOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name string
		set  func(*spectrum.Info)
	}{
		{"negative exposure", func(i *spectrum.Info) { i.ExposureTime = -1 }},
		{"huge exposure", func(i *spectrum.Info) { i.ExposureTime = 1 << 33 }},
		{"co-adds", func(i *spectrum.Info) { i.NumSpectra = 70000 }},
		{"interlace step", func(i *spectrum.Info) { i.InterlaceStep = 256 }},
		{"start channel", func(i *spectrum.Info) { i.StartChannel = 65536 }},
		{"channel", func(i *spectrum.Info) { i.Channel = -2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := makeSpec("sky", 4, 1)
			tc.set(&s.Info)
			if err := EncodeRecord(&bytes.Buffer{}, s, false); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeRejectsOversizedInflate(t *testing.T) {
	var payload bytes.Buffer
	fw, err := flate.NewWriter(&payload, flate.BestCompression)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(make([]byte, 1<<20)); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}

	h := header{
		Version:     Version,
		Flags:       flagCompressed,
		HeaderSize:  HeaderSize,
		Length:      4,
		NumSpectra:  1,
		PayloadSize: uint32(payload.Len()),
	}
	copy(h.Magic[:], Magic)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		t.Fatal(err)
	}
	buf.Write(payload.Bytes())

	if _, err := DecodeRecord(&buf); !errors.Is(err, ErrDecompress) {
		t.Fatalf("err = %v, want ErrDecompress", err)
	}
}

func TestReaderLabels(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{
		makeSpec("offset", 32, 100),
		makeSpec("Zenith", 32, 2000),
		makeSpec("dark_cur", 32, 150),
		makeSpec("", 32, 1500),
		makeSpec("", 32, 1600),
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Count() != 5 {
		t.Fatalf("Count = %d, want 5", r.Count())
	}
	if r.SkyIndex() != 1 {
		t.Fatalf("SkyIndex = %d, want 1", r.SkyIndex())
	}
	// offset and dark current present: no dark fallback.
	if r.DarkIndex() != -1 {
		t.Fatalf("DarkIndex = %d, want -1", r.DarkIndex())
	}
	if _, ok := r.Offset(); !ok {
		t.Fatal("offset missing")
	}
	dc, ok := r.DarkCurrent()
	if !ok || dc.Info.ScanIndex != 2 {
		t.Fatalf("dark current = %v, %v", dc, ok)
	}
	if r.Role(0) != RoleOffset || r.Role(3) != RoleMeasurement {
		t.Fatalf("roles = %v, %v", r.Role(0), r.Role(3))
	}
}

func TestReaderFallbackRoles(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{
		makeSpec("", 16, 2000),
		makeSpec("", 16, 100),
		makeSpec("", 16, 1500),
	})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.SkyIndex() != 0 || r.DarkIndex() != 1 {
		t.Fatalf("sky=%d dark=%d, want 0 and 1", r.SkyIndex(), r.DarkIndex())
	}
	dark, ok := r.Dark()
	if !ok || dark.Data[0] != 100 {
		t.Fatalf("dark = %v, %v", dark, ok)
	}
}

func TestCursorSkipsRolesAfterReset(t *testing.T) {
	for _, limit := range []int{DefaultBufferLimit, 0} {
		path := writeContainer(t, []*spectrum.Spectrum{
			makeSpec("sky", 16, 2000),
			makeSpec("dark", 16, 100),
			makeSpec("", 16, 1),
			makeSpec("", 16, 2),
			makeSpec("", 16, 3),
		})
		r, err := Open(path, WithBufferLimit(limit))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if r.Buffered() != (limit > 5) {
			t.Fatalf("Buffered = %v with limit %d", r.Buffered(), limit)
		}

		var seen []int
		for {
			s, err := r.Next()
			if errors.Is(err, ErrEndOfData) {
				break
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			seen = append(seen, s.Info.ScanIndex)
		}
		if len(seen) != 3 || seen[0] != 2 || seen[2] != 4 {
			t.Fatalf("cursor positions = %v, want [2 3 4]", seen)
		}

		r.Reset()
		s, err := r.Next()
		if err != nil || s.Info.ScanIndex != 2 {
			t.Fatalf("after Reset: %v, %v", s, err)
		}
		r.Close()
	}
}

func TestSentinelsBeforeCheck(t *testing.T) {
	r := NewReader()
	if r.SpectrumLength() != -1 || r.InterlaceStep() != -1 || r.StartChannel() != -1 {
		t.Fatal("accessors must return -1 before Check")
	}
	if _, err := r.Next(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Next err = %v, want ErrNotInitialized", err)
	}
}

func TestDerivedAccessors(t *testing.T) {
	first := makeSpec("sky", 48, 10)
	first.Info.InterlaceStep = 2
	first.Info.StartChannel = 100
	later := makeSpec("", 48, 10)
	later.Info.StopTime = first.Info.StopTime.Add(time.Minute)

	path := writeContainer(t, []*spectrum.Spectrum{first, makeSpec("dark", 48, 1), later})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.SpectrumLength() != 48 || r.InterlaceStep() != 2 || r.StartChannel() != 100 {
		t.Fatalf("length=%d step=%d start=%d", r.SpectrumLength(), r.InterlaceStep(), r.StartChannel())
	}
	if r.Device() != "I2J5678" || r.Name() != "scan.pak" {
		t.Fatalf("device=%q name=%q", r.Device(), r.Name())
	}
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !r.StopTime().Equal(later.Info.StopTime) {
		t.Fatalf("StopTime = %v, want %v", r.StopTime(), later.Info.StopTime)
	}
}

func TestChecksumMismatchIsPerRecord(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{
		makeSpec("sky", 8, 2000),
		makeSpec("dark", 8, 100),
		makeSpec("", 8, 1),
		makeSpec("", 8, 2),
	})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	recSize := HeaderSize + 8*8
	raw[2*recSize+HeaderSize+3] ^= 0xff // first sample of record 2
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	_, err = r.Next()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Index != 2 {
		t.Fatalf("err = %v, want RecordError at 2", err)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}

	s, err := r.Next()
	if err != nil || s.Info.ScanIndex != 3 {
		t.Fatalf("record after corruption: %v, %v", s, err)
	}
}

func TestDecompressFailure(t *testing.T) {
	var buf bytes.Buffer
	for _, name := range []string{"sky", "dark"} {
		if err := EncodeRecord(&buf, makeSpec(name, 4, 1), false); err != nil {
			t.Fatal(err)
		}
	}

	h := header{
		Version:     Version,
		Flags:       flagCompressed,
		HeaderSize:  HeaderSize,
		Length:      4,
		NumSpectra:  1,
		PayloadSize: 8,
	}
	copy(h.Magic[:], Magic)
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		t.Fatal(err)
	}
	buf.Write(bytes.Repeat([]byte{0xff}, 8))

	path := filepath.Join(t.TempDir(), "bad.pak")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.At(2); !errors.Is(err, ErrDecompress) {
		t.Fatalf("err = %v, want ErrDecompress", err)
	}
}

func TestTruncatedTailIsIgnored(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{
		makeSpec("sky", 8, 1),
		makeSpec("dark", 8, 1),
		makeSpec("", 8, 1),
	})
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw[:len(raw)-10], 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}
}

func TestCorruptSkyFailsCheck(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{makeSpec("sky", 8, 1), makeSpec("", 8, 1)})
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[HeaderSize] ^= 0x01
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestAtOutOfRange(t *testing.T) {
	path := writeContainer(t, []*spectrum.Spectrum{makeSpec("sky", 8, 1)})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := r.At(5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEmptyContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pak")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
