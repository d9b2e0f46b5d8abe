package pak

import (
	"io"

	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompression enables deflate compression of record payloads.
func WithCompression(enabled bool) WriterOption {
	return func(w *Writer) {
		w.compress = enabled
	}
}

// Writer appends records to a container stream.
type Writer struct {
	w        io.Writer
	compress bool
	count    int
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	wr := &Writer{w: w}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

// Write appends s as the next record.
func (w *Writer) Write(s *spectrum.Spectrum) error {
	if err := EncodeRecord(w.w, s, w.compress); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}
