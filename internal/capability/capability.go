// Package capability describes the fixed feature surface a device driver
// discovers during probe: which optional behaviours the device supports,
// and the discrete ranges/sets mutations must be validated against.
package capability

import "fmt"

// Feature is a single named capability bit. Drivers populate a Set at
// probe time; the canonical state model and the bus adapter consult it
// before accepting a mutation.
type Feature uint32

const (
	// Profile-level
	FeatureProfile Feature = iota
	FeatureSeparateXYResolution
	FeatureAngleSnapping
	FeatureDebounce
	FeatureReportRate

	// Button mapping variants
	FeatureButtonLogical
	FeatureButtonSpecial
	FeatureButtonKey
	FeatureButtonMacro

	// LED modes
	FeatureLEDOff
	FeatureLEDSolid
	FeatureLEDCycle
	FeatureLEDWave
	FeatureLEDStarlight
	FeatureLEDBreathing
	FeatureLEDTricolor

	// FeatureDistinctDefaultResolution marks devices whose firmware models
	// "default resolution" separately from "active resolution". Devices
	// that lack it must expose IsDefault == IsActive and reject
	// independent SetDefault mutations.
	FeatureDistinctDefaultResolution
)

var featureStringMap = map[Feature]string{
	FeatureProfile:                              "profile",
	FeatureSeparateXYResolution:                 "separate-xy",
	FeatureAngleSnapping:                        "angle-snapping",
	FeatureDebounce:                             "debounce",
	FeatureReportRate:                           "report-rate",
	FeatureButtonLogical:                        "button-logical",
	FeatureButtonSpecial:                        "button-special",
	FeatureButtonKey:                            "button-key",
	FeatureButtonMacro:                          "button-macro",
	FeatureLEDOff:                               "led-off",
	FeatureLEDSolid:                             "led-solid",
	FeatureLEDCycle:                             "led-cycle",
	FeatureLEDWave:                              "led-wave",
	FeatureLEDStarlight:                         "led-starlight",
	FeatureLEDBreathing:                         "led-breathing",
	FeatureLEDTricolor:                "led-tricolor",
	FeatureDistinctDefaultResolution:  "distinct-default-resolution",
}

func (f Feature) String() string {
	if s, ok := featureStringMap[f]; ok {
		return s
	}
	return fmt.Sprintf("Feature(0x%X)", uint32(f))
}

// Set is the feature surface of one device, discovered once at probe time
// and never mutated afterwards.
type Set map[Feature]struct{}

// NewSet builds a Set from a list of features.
func NewSet(features ...Feature) Set {
	s := make(Set, len(features))
	for _, f := range features {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether the feature is present in the set.
func (s Set) Has(f Feature) bool {
	_, ok := s[f]
	return ok
}

// Add mutates the set in place; used by database capability_overrides.
func (s Set) Add(f Feature) { s[f] = struct{}{} }

// Remove mutates the set in place; used by database capability_overrides.
func (s Set) Remove(f Feature) { delete(s, f) }

// Range is an inclusive [Min, Max] bound with a fixed step, used for DPI.
type Range struct {
	Min, Max, Step int
}

// Contains reports whether v is a legal value of the range.
func (r Range) Contains(v int) bool {
	if v < r.Min || v > r.Max {
		return false
	}
	if r.Step <= 1 {
		return true
	}
	return (v-r.Min)%r.Step == 0
}

// DiscreteSet is an explicit enumeration, used for report rates and
// debounce times, which devices report as a short list rather than a
// range with a fixed step.
type DiscreteSet []int

// Contains reports whether v is one of the enumerated values.
func (d DiscreteSet) Contains(v int) bool {
	for _, x := range d {
		if x == v {
			return true
		}
	}
	return false
}

// Capabilities is the complete static capability surface of one device,
// filled in by DeviceDriver.Probe and optionally widened or narrowed by a
// device-database capability_overrides entry.
type Capabilities struct {
	Features Set

	ProfileCount     int
	ResolutionCount  int
	ButtonCount      int
	LEDCount         int
	MacroMaxLength   int

	DPI          Range
	ReportRates  DiscreteSet
	DebounceTime DiscreteSet
}

// Clone returns a deep copy so drivers and the database loader can safely
// hand out Capabilities without readers mutating shared state.
func (c Capabilities) Clone() Capabilities {
	out := c
	out.Features = make(Set, len(c.Features))
	for f := range c.Features {
		out.Features[f] = struct{}{}
	}
	out.ReportRates = append(DiscreteSet(nil), c.ReportRates...)
	out.DebounceTime = append(DiscreteSet(nil), c.DebounceTime...)
	return out
}

// ApplyOverrides merges a partial capability set (e.g. from a device
// database quirk entry) into c: each non-zero count, non-zero DPI range
// and non-empty set in overrides replaces c's value outright (so it may
// narrow as well as widen), then individual features are added/removed.
func ApplyOverrides(c Capabilities, overrides Capabilities, addFeatures, removeFeatures []Feature) Capabilities {
	out := c.Clone()
	if overrides.ProfileCount != 0 {
		out.ProfileCount = overrides.ProfileCount
	}
	if overrides.ResolutionCount != 0 {
		out.ResolutionCount = overrides.ResolutionCount
	}
	if overrides.ButtonCount != 0 {
		out.ButtonCount = overrides.ButtonCount
	}
	if overrides.LEDCount != 0 {
		out.LEDCount = overrides.LEDCount
	}
	if overrides.MacroMaxLength != 0 {
		out.MacroMaxLength = overrides.MacroMaxLength
	}
	if overrides.DPI.Max != 0 {
		out.DPI = overrides.DPI
	}
	if len(overrides.ReportRates) > 0 {
		out.ReportRates = overrides.ReportRates
	}
	if len(overrides.DebounceTime) > 0 {
		out.DebounceTime = overrides.DebounceTime
	}
	for f := range overrides.Features {
		out.Features.Add(f)
	}
	for _, f := range addFeatures {
		out.Features.Add(f)
	}
	for _, f := range removeFeatures {
		out.Features.Remove(f)
	}
	return out
}
