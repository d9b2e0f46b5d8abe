package dark

import (
	"fmt"
	"strings"
)

// Strategy selects how the dark spectrum is obtained.
type Strategy int

// Dark strategies.
const (
	// StrategyMeasured uses the dark record of the scan and falls back to a
	// modelled dark when only offset and dark current are present.
	StrategyMeasured Strategy = iota
	// StrategyModelSometimes behaves like StrategyMeasured.
	StrategyModelSometimes
	// StrategyModelAlways always models the dark from offset and dark
	// current.
	StrategyModelAlways
	// StrategyUserSupplied reads the dark from DarkPath.
	StrategyUserSupplied
)

func (s Strategy) String() string {
	switch s {
	case StrategyMeasured:
		return "measured"
	case StrategyModelSometimes:
		return "model_sometimes"
	case StrategyModelAlways:
		return "model_always"
	case StrategyUserSupplied:
		return "user"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses the names returned by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range []Strategy{StrategyMeasured, StrategyModelSometimes, StrategyModelAlways, StrategyUserSupplied} {
		if strings.EqualFold(strings.TrimSpace(s), st.String()) {
			return st, nil
		}
	}
	if strings.TrimSpace(s) == "" {
		return StrategyMeasured, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, s)
}

// Source tells where an offset or dark-current spectrum comes from.
type Source int

// Spectrum sources.
const (
	SourceScan Source = iota
	SourceUser
)

// ParseSource parses "scan" or "user".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scan":
		return SourceScan, nil
	case "user":
		return SourceUser, nil
	}
	return 0, fmt.Errorf("dark: unknown source %q", s)
}

// Correction controls whether the offset contribution is removed from the
// dark current before it is scaled.
type Correction int

// Dark-current corrections.
const (
	// CorrectionAuto corrects dark current taken from the scan and trusts
	// a user-supplied dark current to be offset free.
	CorrectionAuto Correction = iota
	CorrectionAlways
	CorrectionNever
)

// ParseCorrection parses "auto", "always" or "never".
func ParseCorrection(s string) (Correction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return CorrectionAuto, nil
	case "always":
		return CorrectionAlways, nil
	case "never":
		return CorrectionNever, nil
	}
	return 0, fmt.Errorf("dark: unknown correction %q", s)
}

func (c Correction) applies(src Source) bool {
	switch c {
	case CorrectionAlways:
		return true
	case CorrectionNever:
		return false
	}
	return src == SourceScan
}

// Settings configures dark resolution.
type Settings struct {
	Strategy Strategy

	OffsetSource      Source
	OffsetPath        string
	DarkCurrentSource Source
	DarkCurrentPath   string

	DarkPath string

	DarkCurrentCorrection Correction
}
