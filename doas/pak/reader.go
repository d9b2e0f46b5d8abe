package pak

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// DefaultBufferLimit is the record count below which a container is decoded
// into memory as a whole.
const DefaultBufferLimit = 200

// Role is the semantic role of a record, derived from its name.
type Role int

// Record roles.
const (
	RoleMeasurement Role = iota
	RoleSky
	RoleDark
	RoleOffset
	RoleDarkCurrent
)

func (r Role) String() string {
	switch r {
	case RoleSky:
		return "sky"
	case RoleDark:
		return "dark"
	case RoleOffset:
		return "offset"
	case RoleDarkCurrent:
		return "dark current"
	default:
		return "measurement"
	}
}

func roleFromName(name string) Role {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sky", "zenith":
		return RoleSky
	case "dark":
		return RoleDark
	case "offset":
		return RoleOffset
	case "dark_cur", "darkcur":
		return RoleDarkCurrent
	}
	return RoleMeasurement
}

// Option configures a Reader.
type Option func(*Reader)

// WithBufferLimit sets the record count below which the whole container is
// decoded into memory during Check.
func WithBufferLimit(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.bufferLimit = n
		}
	}
}

// WithLogger sets the logger used for index warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

type record struct {
	offset int64 // payload offset
	hdr    header
	role   Role

	spec *spectrum.Spectrum
	err  error
	done bool
}

// Reader gives access to the records of one scan container.
// A Reader is not safe for concurrent use.
type Reader struct {
	bufferLimit int
	logger      *slog.Logger

	path     string
	file     *os.File
	records  []record
	buffered bool
	cursor   int

	sky, dark, offset, darkCurrent int

	startTime time.Time
	stopTime  time.Time
}

// NewReader returns an uninitialized Reader. Call Check before use.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		bufferLimit: DefaultBufferLimit,
		logger:      slog.Default(),
		sky:         -1,
		dark:        -1,
		offset:      -1,
		darkCurrent: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates a Reader and runs Check on path.
func Open(path string, opts ...Option) (*Reader, error) {
	r := NewReader(opts...)
	if err := r.Check(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Check indexes the container at path, classifies its records and reads the
// sky, dark, offset and dark-current records. Any previously opened
// container is closed first.
func (r *Reader) Check(path string) error {
	_ = r.Close()
	r.sky, r.dark, r.offset, r.darkCurrent = -1, -1, -1, -1

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pak: %w", err)
	}

	records, err := r.index(f, path)
	if err != nil {
		_ = f.Close()
		return err
	}
	if len(records) == 0 {
		_ = f.Close()
		return fmt.Errorf("%w: %s holds no records", ErrNotFound, path)
	}

	r.path = path
	r.file = f
	r.records = records
	r.classify()

	first := r.records[0].hdr.info()
	r.startTime, r.stopTime = first.StartTime, first.StopTime

	r.buffered = len(r.records) < r.bufferLimit
	if r.buffered {
		for i := range r.records {
			if _, err := r.load(i); err != nil {
				r.logger.Debug("record unreadable", "file", path, "index", i, "reason", err)
			}
		}
	}

	for _, i := range []int{r.sky, r.dark, r.offset, r.darkCurrent} {
		if i < 0 {
			continue
		}
		if _, err := r.load(i); err != nil {
			_ = r.Close()
			return fmt.Errorf("pak: %s record: %w", r.records[i].role, &RecordError{Index: i, Err: err})
		}
	}

	r.Reset()
	return nil
}

func (r *Reader) index(f *os.File, path string) ([]record, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pak: %w", err)
	}
	size := st.Size()

	var (
		records []record
		pos     int64
	)
	for pos < size {
		h, err := readHeader(io.NewSectionReader(f, pos, HeaderSize))
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("container index truncated", "file", path, "index", len(records), "reason", err)
			}
			break
		}
		end := pos + HeaderSize + int64(h.PayloadSize)
		if end > size {
			r.logger.Warn("container index truncated", "file", path, "index", len(records), "reason", "payload past end of file")
			break
		}
		records = append(records, record{offset: pos + HeaderSize, hdr: h})
		pos = end
	}
	return records, nil
}

func (r *Reader) classify() {
	for i := range r.records {
		role := roleFromName(r.records[i].hdr.name())
		r.records[i].role = role
		idx := r.roleIndex(role)
		if idx != nil && *idx < 0 {
			*idx = i
		}
	}

	// Unlabelled containers: position 0 is sky, position 1 is dark.
	if r.sky < 0 && r.records[0].role == RoleMeasurement {
		r.sky = 0
		r.records[0].role = RoleSky
	}
	if r.dark < 0 && r.offset < 0 && r.darkCurrent < 0 &&
		len(r.records) > 1 && r.records[1].role == RoleMeasurement {
		r.dark = 1
		r.records[1].role = RoleDark
	}
}

func (r *Reader) roleIndex(role Role) *int {
	switch role {
	case RoleSky:
		return &r.sky
	case RoleDark:
		return &r.dark
	case RoleOffset:
		return &r.offset
	case RoleDarkCurrent:
		return &r.darkCurrent
	}
	return nil
}

// load decodes record i once and caches the outcome when the container is
// buffered or the record carries a role.
func (r *Reader) load(i int) (*spectrum.Spectrum, error) {
	rec := &r.records[i]
	if rec.done {
		return rec.spec, rec.err
	}

	payload := make([]byte, rec.hdr.PayloadSize)
	var s *spectrum.Spectrum
	_, err := r.file.ReadAt(payload, rec.offset)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
	} else {
		var data []float64
		data, err = decodePayload(&rec.hdr, payload)
		if err == nil {
			s = &spectrum.Spectrum{Data: data, Info: rec.hdr.info()}
			s.Info.ScanIndex = i
		}
	}

	if r.buffered || rec.role != RoleMeasurement {
		rec.spec, rec.err, rec.done = s, err, true
	}
	return s, err
}

func (r *Reader) get(i int) (*spectrum.Spectrum, error) {
	s, err := r.load(i)
	if err != nil {
		return nil, &RecordError{Index: i, Err: err}
	}
	r.widen(s.Info)
	return s.Clone(), nil
}

func (r *Reader) widen(info spectrum.Info) {
	if !info.StartTime.IsZero() && (r.startTime.IsZero() || info.StartTime.Before(r.startTime)) {
		r.startTime = info.StartTime
	}
	if !info.StopTime.IsZero() && info.StopTime.After(r.stopTime) {
		r.stopTime = info.StopTime
	}
}

// Count returns the number of indexed records.
func (r *Reader) Count() int {
	return len(r.records)
}

// Next returns the next measurement record and advances the cursor. Records
// carrying a role are skipped. The cursor advances even when decoding
// fails, in which case the error is a *RecordError. ErrEndOfData marks the
// end of the container.
func (r *Reader) Next() (*spectrum.Spectrum, error) {
	if r.records == nil {
		return nil, ErrNotInitialized
	}
	for r.cursor < len(r.records) {
		i := r.cursor
		r.cursor++
		if r.records[i].role != RoleMeasurement {
			continue
		}
		return r.get(i)
	}
	return nil, ErrEndOfData
}

// Reset moves the cursor to the first record after the leading role-tagged
// records.
func (r *Reader) Reset() {
	r.cursor = 0
	for r.cursor < len(r.records) && r.records[r.cursor].role != RoleMeasurement {
		r.cursor++
	}
}

// At returns the record at position i regardless of its role.
func (r *Reader) At(i int) (*spectrum.Spectrum, error) {
	if r.records == nil {
		return nil, ErrNotInitialized
	}
	if i < 0 || i >= len(r.records) {
		return nil, fmt.Errorf("%w: position %d of %d", ErrNotFound, i, len(r.records))
	}
	return r.get(i)
}

// Role returns the role of the record at position i.
func (r *Reader) Role(i int) Role {
	if i < 0 || i >= len(r.records) {
		return RoleMeasurement
	}
	return r.records[i].role
}

// RecordName returns the stored name of the record at position i.
func (r *Reader) RecordName(i int) string {
	if i < 0 || i >= len(r.records) {
		return ""
	}
	return r.records[i].hdr.name()
}

func (r *Reader) byRole(i int) (*spectrum.Spectrum, bool) {
	if i < 0 {
		return nil, false
	}
	s, err := r.get(i)
	if err != nil {
		return nil, false
	}
	return s, true
}

// Sky returns a copy of the sky record.
func (r *Reader) Sky() (*spectrum.Spectrum, bool) { return r.byRole(r.sky) }

// Dark returns a copy of the dark record.
func (r *Reader) Dark() (*spectrum.Spectrum, bool) { return r.byRole(r.dark) }

// Offset returns a copy of the offset record.
func (r *Reader) Offset() (*spectrum.Spectrum, bool) { return r.byRole(r.offset) }

// DarkCurrent returns a copy of the dark-current record.
func (r *Reader) DarkCurrent() (*spectrum.Spectrum, bool) { return r.byRole(r.darkCurrent) }

// SkyIndex returns the position of the sky record, or -1.
func (r *Reader) SkyIndex() int { return r.sky }

// DarkIndex returns the position of the dark record, or -1.
func (r *Reader) DarkIndex() int { return r.dark }

func (r *Reader) firstHeader() *header {
	if len(r.records) == 0 {
		return nil
	}
	return &r.records[0].hdr
}

// SpectrumLength returns the sample count of the first record, or -1 before
// Check.
func (r *Reader) SpectrumLength() int {
	if h := r.firstHeader(); h != nil {
		return int(h.Length)
	}
	return -1
}

// InterlaceStep returns the interlace step of the first record, or -1
// before Check.
func (r *Reader) InterlaceStep() int {
	if h := r.firstHeader(); h != nil {
		return int(h.InterlaceStep)
	}
	return -1
}

// StartChannel returns the start channel of the first record, or -1 before
// Check.
func (r *Reader) StartChannel() int {
	if h := r.firstHeader(); h != nil {
		return int(h.StartChannel)
	}
	return -1
}

// Device returns the device serial of the first record.
func (r *Reader) Device() string {
	if h := r.firstHeader(); h != nil {
		return h.device()
	}
	return ""
}

// Channel returns the detector channel of the first record, or -1 before
// Check.
func (r *Reader) Channel() int {
	if h := r.firstHeader(); h != nil {
		return int(h.Channel)
	}
	return -1
}

// StartTime returns the earliest start time seen so far.
func (r *Reader) StartTime() time.Time { return r.startTime }

// StopTime returns the latest stop time seen so far.
func (r *Reader) StopTime() time.Time { return r.stopTime }

// Path returns the container path.
func (r *Reader) Path() string { return r.path }

// Name returns the base name of the container file.
func (r *Reader) Name() string {
	if r.path == "" {
		return ""
	}
	return filepath.Base(r.path)
}

// Buffered reports whether all records were decoded into memory.
func (r *Reader) Buffered() bool { return r.buffered }

// Close releases the backing file.
func (r *Reader) Close() error {
	r.records = nil
	r.cursor = 0
	r.buffered = false
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
