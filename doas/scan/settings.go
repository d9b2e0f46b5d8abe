package scan

import (
	"fmt"
	"strings"

	"github.com/cwbudde/algo-doas/doas/dark"
	"github.com/cwbudde/algo-doas/doas/fit"
)

// SkyOption selects the sky spectrum of a scan.
type SkyOption int

// Sky options.
const (
	// SkyScan uses the sky record of the scan.
	SkyScan SkyOption = iota
	// SkyAverageOfGood sums every unsaturated, non-dark spectrum.
	SkyAverageOfGood
	// SkyIndex uses the record at Settings.SkyIndex.
	SkyIndex
	// SkyUser reads Settings.SkyPath.
	SkyUser
)

func (o SkyOption) String() string {
	switch o {
	case SkyScan:
		return "scan"
	case SkyAverageOfGood:
		return "average"
	case SkyIndex:
		return "index"
	case SkyUser:
		return "user"
	}
	return fmt.Sprintf("SkyOption(%d)", int(o))
}

// ParseSkyOption parses the names returned by SkyOption.String.
func ParseSkyOption(s string) (SkyOption, error) {
	for _, o := range []SkyOption{SkyScan, SkyAverageOfGood, SkyIndex, SkyUser} {
		if strings.EqualFold(strings.TrimSpace(s), o.String()) {
			return o, nil
		}
	}
	if strings.TrimSpace(s) == "" {
		return SkyScan, nil
	}
	return 0, fmt.Errorf("scan: unknown sky option %q", s)
}

// QualitySettings holds the goodness-of-fit thresholds. A zero threshold
// disables its check.
type QualitySettings struct {
	// MaxSaturation is the largest accepted fit-region intensity per
	// exposure as a fraction of the dynamic range.
	MaxSaturation float64
	MaxChiSquare  float64
	MaxDelta      float64
}

// Settings configures the evaluation of scans.
type Settings struct {
	Sky      SkyOption
	SkyIndex int
	SkyPath  string

	Dark dark.Settings

	// AveragedSpectra marks spectra that are stored as averages rather
	// than sums of their exposures.
	AveragedSpectra bool

	// MinSaturation is the fraction of the dynamic range the fit-region
	// signal must reach for a spectrum to be evaluated.
	MinSaturation float64

	MainFitSteps int
	Quality      QualitySettings
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Sky:           SkyScan,
		MinSaturation: 0.05,
		MainFitSteps:  fit.DefaultMaxSteps,
		Quality:       QualitySettings{MaxSaturation: 0.95},
	}
}
