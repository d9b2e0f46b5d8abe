package spectrum

import "strings"

// Model identifies a spectrometer model.
type Model int

// Known spectrometer models.
const (
	ModelUnknown Model = iota
	ModelS2000
	ModelUSB2000
	ModelUSB2000Plus
	ModelUSB4000
	ModelHR2000
	ModelHR4000
	ModelQE65000
	ModelMayaPro
)

type modelInfo struct {
	name         string
	maxIntensity float64
}

var modelTable = map[Model]modelInfo{
	ModelUnknown:     {"Unknown", 4095},
	ModelS2000:       {"S2000", 4095},
	ModelUSB2000:     {"USB2000", 4095},
	ModelUSB2000Plus: {"USB2000+", 65535},
	ModelUSB4000:     {"USB4000", 65535},
	ModelHR2000:      {"HR2000", 4095},
	ModelHR4000:      {"HR4000", 16383},
	ModelQE65000:     {"QE65000", 65535},
	ModelMayaPro:     {"MAYAPRO", 65535},
}

// serial prefixes, checked in order; longer prefixes first where they overlap.
var serialPrefixes = []struct {
	prefix string
	model  Model
}{
	{"USB2+", ModelUSB2000Plus},
	{"USB4", ModelUSB4000},
	{"USB2", ModelUSB2000},
	{"MAYP", ModelMayaPro},
	{"HR4", ModelHR4000},
	{"HR2", ModelHR2000},
	{"QE", ModelQE65000},
	{"I2J", ModelS2000},
	{"D2J", ModelS2000},
}

// String returns the model name.
func (m Model) String() string {
	if info, ok := modelTable[m]; ok {
		return info.name
	}
	return modelTable[ModelUnknown].name
}

// MaxIntensity returns the dynamic range of a single exposure in counts.
func (m Model) MaxIntensity() float64 {
	if info, ok := modelTable[m]; ok {
		return info.maxIntensity
	}
	return modelTable[ModelUnknown].maxIntensity
}

// GuessModel derives the spectrometer model from its serial number.
func GuessModel(serial string) Model {
	s := strings.ToUpper(strings.TrimSpace(serial))
	if s == "" {
		return ModelUnknown
	}
	for _, p := range serialPrefixes {
		if strings.HasPrefix(s, p.prefix) {
			return p.model
		}
	}
	return ModelUnknown
}

// ParseModel looks up a model by name, case-insensitively.
func ParseModel(name string) (Model, bool) {
	for m, info := range modelTable {
		if strings.EqualFold(info.name, strings.TrimSpace(name)) {
			return m, true
		}
	}
	return ModelUnknown, false
}
