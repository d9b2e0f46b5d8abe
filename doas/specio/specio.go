package specio

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-doas/doas/pak"
	"github.com/cwbudde/algo-doas/doas/spectrum"
)

// ErrEmpty is returned for a text file without samples.
var ErrEmpty = errors.New("specio: no samples")

// ReadStructured reads the first record of a structured spectrum file.
func ReadStructured(path string) (*spectrum.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("specio: %w", err)
	}
	defer f.Close()

	s, err := pak.DecodeRecord(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("specio: %s: %w", path, err)
	}
	return s, nil
}

// ReadText reads a plain-text spectrum. Every non-empty line holds either a
// single value or whitespace-separated columns, of which the last is the
// sample value. Lines starting with '#' or ';' are comments.
func ReadText(path string) (*spectrum.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("specio: %w", err)
	}
	defer f.Close()

	var data []float64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == ';' {
			continue
		}
		fields := strings.Fields(text)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("specio: %s:%d: %w", path, line, err)
		}
		data = append(data, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("specio: %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return spectrum.New(data, spectrum.Info{Name: name, NumSpectra: 1, InterlaceStep: 1})
}

// ReadAny tries the structured form first and falls back to text. It fails
// only if both readers fail.
func ReadAny(path string) (*spectrum.Spectrum, error) {
	s, errStd := ReadStructured(path)
	if errStd == nil {
		return s, nil
	}
	s, errTxt := ReadText(path)
	if errTxt == nil {
		return s, nil
	}
	return nil, errors.Join(errStd, errTxt)
}

// WriteStructured stores s as a structured spectrum file.
func WriteStructured(path string, s *spectrum.Spectrum) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("specio: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := pak.EncodeRecord(w, s, false); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("specio: %w", err)
	}
	return f.Close()
}

// WriteText stores the samples of s, one per line.
func WriteText(path string, s *spectrum.Spectrum) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("specio: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, v := range s.Data {
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("specio: %w", err)
	}
	return f.Close()
}
