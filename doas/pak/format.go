package pak

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"strings"
	"time"

	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// Record layout constants.
const (
	Magic      = "DSPK"
	Version    = 1
	HeaderSize = 76

	flagCompressed = 1 << 0

	nameLen = 16
)

// Errors returned by the container codec and reader.
var (
	ErrNotFound         = errors.New("pak: spectrum not found")
	ErrEndOfData        = errors.New("pak: end of data")
	ErrChecksumMismatch = errors.New("pak: checksum mismatch")
	ErrDecompress       = errors.New("pak: decompression failed")
	ErrMalformed        = errors.New("pak: malformed record")
	ErrNotInitialized   = errors.New("pak: reader not initialized")
)

// RecordError reports a decode failure of the record at Index.
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("pak: record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// header is the on-disk record header. binary.Read packs it without padding.
type header struct {
	Magic         [4]byte
	Version       uint8
	Flags         uint8
	HeaderSize    uint16
	Name          [nameLen]byte
	Device        [nameLen]byte
	Channel       uint8
	InterlaceStep uint8
	StartChannel  uint16
	Length        uint16
	NumSpectra    uint16
	ExposureTime  uint32
	StartTime     int64
	StopTime      int64
	PayloadSize   uint32
	Checksum      uint32
}

func (h *header) compressed() bool {
	return h.Flags&flagCompressed != 0
}

func (h *header) name() string {
	return cString(h.Name[:])
}

func (h *header) device() string {
	return cString(h.Device[:])
}

func (h *header) info() spectrum.Info {
	dev := h.device()
	return spectrum.Info{
		Name:          h.name(),
		NumSpectra:    int(h.NumSpectra),
		ExposureTime:  int(h.ExposureTime),
		Channel:       int(h.Channel),
		InterlaceStep: int(h.InterlaceStep),
		StartChannel:  int(h.StartChannel),
		Device:        dev,
		Model:         spectrum.GuessModel(dev),
		StartTime:     fromMillis(h.StartTime),
		StopTime:      fromMillis(h.StopTime),
	}
}

func readHeader(r io.Reader) (header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) {
			return h, io.EOF
		}
		return h, fmt.Errorf("%w: short header: %v", ErrMalformed, err)
	}
	if string(h.Magic[:]) != Magic {
		return h, fmt.Errorf("%w: bad magic %q", ErrMalformed, h.Magic[:])
	}
	if h.HeaderSize != HeaderSize {
		return h, fmt.Errorf("%w: header size %d", ErrMalformed, h.HeaderSize)
	}
	if int(h.Length) > spectrum.MaxLength {
		return h, fmt.Errorf("%w: %d samples", ErrMalformed, h.Length)
	}
	return h, nil
}

func decodePayload(h *header, payload []byte) ([]float64, error) {
	raw := payload
	if h.compressed() {
		want := 8 * int64(h.Length)
		fr := flate.NewReader(bytes.NewReader(payload))
		var err error
		raw, err = io.ReadAll(io.LimitReader(fr, want+1))
		_ = fr.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		if int64(len(raw)) > want {
			return nil, fmt.Errorf("%w: payload inflates past %d bytes", ErrDecompress, want)
		}
	}

	if len(raw) != 8*int(h.Length) {
		return nil, fmt.Errorf("%w: payload holds %d bytes, want %d", ErrMalformed, len(raw), 8*int(h.Length))
	}
	if sum := crc32.ChecksumIEEE(raw); sum != h.Checksum {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, sum, h.Checksum)
	}

	data := make([]float64, h.Length)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return data, nil
}

// EncodeRecord writes s as a single record.
func EncodeRecord(w io.Writer, s *spectrum.Spectrum, compress bool) error {
	if s.Len() > spectrum.MaxLength {
		return fmt.Errorf("pak: %w", spectrum.ErrTooLong)
	}
	if len(s.Info.Name) > nameLen || len(s.Info.Device) > nameLen {
		return fmt.Errorf("%w: name or device longer than %d bytes", ErrMalformed, nameLen)
	}
	if err := checkFields(&s.Info); err != nil {
		return err
	}

	raw := make([]byte, 8*s.Len())
	for i, v := range s.Data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}

	h := header{
		Version:       Version,
		HeaderSize:    HeaderSize,
		Channel:       uint8(s.Info.Channel),
		InterlaceStep: uint8(s.Info.InterlaceStep),
		StartChannel:  uint16(s.Info.StartChannel),
		Length:        uint16(s.Len()),
		NumSpectra:    uint16(s.Info.NumSpectra),
		ExposureTime:  uint32(s.Info.ExposureTime),
		StartTime:     toMillis(s.Info.StartTime),
		StopTime:      toMillis(s.Info.StopTime),
		Checksum:      crc32.ChecksumIEEE(raw),
	}
	copy(h.Magic[:], Magic)
	copy(h.Name[:], s.Info.Name)
	copy(h.Device[:], s.Info.Device)

	payload := raw
	if compress {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return fmt.Errorf("pak: %w", err)
		}
		if _, err := fw.Write(raw); err != nil {
			return fmt.Errorf("pak: compress: %w", err)
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("pak: compress: %w", err)
		}
		payload = buf.Bytes()
		h.Flags |= flagCompressed
	}
	h.PayloadSize = uint32(len(payload))

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("pak: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("pak: write payload: %w", err)
	}
	return nil
}

// checkFields rejects info values that do not fit their header fields.
func checkFields(info *spectrum.Info) error {
	fields := []struct {
		name string
		v    int64
		max  int64
	}{
		{"channel", int64(info.Channel), math.MaxUint8},
		{"interlace step", int64(info.InterlaceStep), math.MaxUint8},
		{"start channel", int64(info.StartChannel), math.MaxUint16},
		{"number of spectra", int64(info.NumSpectra), math.MaxUint16},
		{"exposure time", int64(info.ExposureTime), math.MaxUint32},
	}
	for _, f := range fields {
		if f.v < 0 || f.v > f.max {
			return fmt.Errorf("%w: %s %d out of range [0, %d]", ErrMalformed, f.name, f.v, f.max)
		}
	}
	return nil
}

// DecodeRecord reads the next record from r. A clean end of input is
// reported as io.EOF.
func DecodeRecord(r io.Reader) (*spectrum.Spectrum, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrMalformed, err)
	}
	data, err := decodePayload(&h, payload)
	if err != nil {
		return nil, err
	}
	return &spectrum.Spectrum{Data: data, Info: h.info()}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func toMillis(t time.Time) int64 {
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
