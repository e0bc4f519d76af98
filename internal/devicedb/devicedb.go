// Package devicedb implements the device database:
// vendor/product match entries resolving to a driver dialect name plus
// an optional quirks map and capability overrides. Concrete format is a
// YAML document per driver family, parsed with gopkg.in/yaml.v3, loaded
// once at startup from a directory configured by internal/config — the
// spec leaves the textual grammar out of scope, so this is the
// expansion's own choice.
package devicedb

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ratbagd/ratbagd/internal/capability"
)

// Match identifies which physical devices an Entry applies to. NameGlob
// is matched against the USB product string with path.Match when set;
// an empty NameGlob matches any name for the given bus/vendor/product.
type Match struct {
	Bus       string `yaml:"bus"`
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
	NameGlob  string `yaml:"name_glob"`
}

// CapabilityOverrides widens or narrows what a driver's Probe reported,
// for devices whose firmware misreports its own limits.
type CapabilityOverrides struct {
	AddFeatures    []string `yaml:"add_features"`
	RemoveFeatures []string `yaml:"remove_features"`
	DPIMin         int      `yaml:"dpi_min"`
	DPIMax         int      `yaml:"dpi_max"`
	DPIStep        int      `yaml:"dpi_step"`
}

// Entry is one device database record: a match predicate, the dialect
// name to resolve via driver.New, its quirks, and optional capability
// overrides.
type Entry struct {
	Name                string              `yaml:"name"`
	Match               Match               `yaml:"match"`
	Driver              string              `yaml:"driver"`
	Quirks              map[string]any      `yaml:"quirks"`
	CapabilityOverrides CapabilityOverrides `yaml:"capability_overrides"`
}

type document struct {
	Entries []Entry `yaml:"devices"`
}

// Database is an in-memory, immutable collection of Entry records
// loaded once at startup.
type Database struct {
	entries []Entry
}

// Load reads every *.yaml/*.yml file in dir and merges their device
// lists in file order (ties broken by filename, matching os.ReadDir's
// lexical ordering).
func Load(dir string) (*Database, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("devicedb: reading %s: %w", dir, err)
	}
	var all []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := filepath.Ext(f.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("devicedb: reading %s: %w", f.Name(), err)
		}
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("devicedb: parsing %s: %w", f.Name(), err)
		}
		all = append(all, doc.Entries...)
	}
	return &Database{entries: all}, nil
}

// Lookup returns the first entry whose Match predicate accepts the
// given identity, matching in file/declaration order.
func (db *Database) Lookup(bus string, vendor, product uint16, name string) (Entry, bool) {
	for _, e := range db.entries {
		m := e.Match
		if m.Bus != "" && m.Bus != bus {
			continue
		}
		if m.VendorID != vendor || m.ProductID != product {
			continue
		}
		if m.NameGlob != "" {
			ok, err := path.Match(m.NameGlob, name)
			if err != nil || !ok {
				continue
			}
		}
		return e, true
	}
	return Entry{}, false
}

// Entries returns every loaded entry, used by startup diagnostics.
func (db *Database) Entries() []Entry {
	return db.entries
}

var featureNames = map[string]capability.Feature{
	"profile":                     capability.FeatureProfile,
	"separate-xy":                 capability.FeatureSeparateXYResolution,
	"angle-snapping":              capability.FeatureAngleSnapping,
	"debounce":                    capability.FeatureDebounce,
	"report-rate":                 capability.FeatureReportRate,
	"button-logical":              capability.FeatureButtonLogical,
	"button-special":              capability.FeatureButtonSpecial,
	"button-key":                  capability.FeatureButtonKey,
	"button-macro":                capability.FeatureButtonMacro,
	"led-off":                     capability.FeatureLEDOff,
	"led-solid":                   capability.FeatureLEDSolid,
	"led-cycle":                   capability.FeatureLEDCycle,
	"led-wave":                    capability.FeatureLEDWave,
	"led-starlight":               capability.FeatureLEDStarlight,
	"led-breathing":               capability.FeatureLEDBreathing,
	"led-tricolor":                capability.FeatureLEDTricolor,
	"distinct-default-resolution": capability.FeatureDistinctDefaultResolution,
}

// ApplyOverrides widens/narrows caps per e.CapabilityOverrides, using
// capability.ApplyOverrides for the merge itself.
func (e Entry) ApplyOverrides(caps capability.Capabilities) capability.Capabilities {
	var add, remove []capability.Feature
	for _, n := range e.CapabilityOverrides.AddFeatures {
		if f, ok := featureNames[n]; ok {
			add = append(add, f)
		}
	}
	for _, n := range e.CapabilityOverrides.RemoveFeatures {
		if f, ok := featureNames[n]; ok {
			remove = append(remove, f)
		}
	}
	overrides := capability.Capabilities{}
	if e.CapabilityOverrides.DPIMax != 0 {
		overrides.DPI = capability.Range{
			Min: e.CapabilityOverrides.DPIMin, Max: e.CapabilityOverrides.DPIMax, Step: e.CapabilityOverrides.DPIStep,
		}
	}
	return capability.ApplyOverrides(caps, overrides, add, remove)
}
