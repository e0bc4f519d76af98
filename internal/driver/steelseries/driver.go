// Package steelseries implements the opaque-blob dialect: the device
// exposes a single fixed-size configuration blob through one feature
// report, with no per-field addressing at the wire level. Commit always
// rewrites the entire blob regardless of how small the diff is —
// drivers are free to ignore the diff and rewrite everything.
package steelseries

import (
	"context"
	"encoding/binary"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/driver"
	"github.com/ratbagd/ratbagd/internal/hidraw"
	"github.com/ratbagd/ratbagd/internal/raterr"
	"github.com/ratbagd/ratbagd/internal/state"
)

func init() {
	driver.Register("steelseries", New)
}

const (
	regBlob = 0x02

	blobHeaderSize       = 1 // active profile index
	nameFieldLength      = 16
	profileSlotHeader    = nameFieldLength + 1            // name + enabled
	resolutionRecordSize = 2                               // single dpi value; no X/Y split, no default slot
	ledRecordSize        = 4                               // mode(1) rgb(3)
)

// Dialect implements driver.Driver for Sinowealth/SteelSeries-class
// opaque-blob controllers. Like roccat, all counts come from the device
// database's quirks since there is no feature-discovery handshake.
type Dialect struct {
	profileCount, resolutionCount, ledCount int
	dpi                                      capability.Range
}

func intQuirk(quirks map[string]any, key string, def int) int {
	if v, ok := quirks[key]; ok {
		if iv, ok := v.(int); ok {
			return iv
		}
	}
	return def
}

// New builds a SteelSeries dialect instance from device database quirks:
// "profile_count", "resolution_count", "led_count", "dpi_min", "dpi_max",
// "dpi_step".
func New(quirks map[string]any) driver.Driver {
	return &Dialect{
		profileCount:    intQuirk(quirks, "profile_count", 1),
		resolutionCount: intQuirk(quirks, "resolution_count", 4),
		ledCount:        intQuirk(quirks, "led_count", 1),
		dpi: capability.Range{
			Min:  intQuirk(quirks, "dpi_min", 200),
			Max:  intQuirk(quirks, "dpi_max", 6500),
			Step: intQuirk(quirks, "dpi_step", 100),
		},
	}
}

func (d *Dialect) blobSize() int {
	perProfile := profileSlotHeader + d.resolutionCount*resolutionRecordSize + d.ledCount*ledRecordSize
	return blobHeaderSize + d.profileCount*perProfile
}

// Probe reads the blob once; any successful read is taken as
// confirmation, since there is no discovery protocol to interrogate more
// specifically. Buttons are not modelled by this family: the real
// firmware remaps buttons through a separate, device-specific report
// this dialect does not implement.
func (d *Dialect) Probe(ctx context.Context, io hidraw.IO) (capability.Capabilities, error) {
	if _, err := io.FeatureReportGet(regBlob, d.blobSize()); err != nil {
		return capability.Capabilities{}, raterr.New("Probe", raterr.Unsupported, err)
	}
	return capability.Capabilities{
		Features: capability.NewSet(
			capability.FeatureProfile,
			capability.FeatureLEDOff,
			capability.FeatureLEDSolid,
		),
		ProfileCount:    d.profileCount,
		ResolutionCount: d.resolutionCount,
		ButtonCount:     0,
		LEDCount:        d.ledCount,
		DPI:             d.dpi,
	}, nil
}

// LoadProfiles reads the whole blob and decodes every profile from it.
func (d *Dialect) LoadProfiles(ctx context.Context, io hidraw.IO, caps capability.Capabilities) ([]*state.Profile, error) {
	blob, err := io.FeatureReportGet(regBlob, d.blobSize())
	if err != nil {
		return nil, raterr.New("LoadProfiles", raterr.ProtocolError, err)
	}
	return decodeBlob(blob, d.profileCount, d.resolutionCount, d.ledCount), nil
}

// Commit ignores diff's granularity entirely: it re-reads the blob,
// overlays every profile named in the diff onto it, and writes the
// whole thing back in a single feature report. A write failure here
// cannot be partial in the granular sense (the blob is one atomic
// register), but is still reported PartialCommit per the uniform driver
// contract, since the in-memory pending state may now disagree with
// what actually reached the device.
func (d *Dialect) Commit(ctx context.Context, io hidraw.IO, diff state.DiffTree) error {
	if diff.Empty() {
		return nil
	}
	blob, err := io.FeatureReportGet(regBlob, d.blobSize())
	if err != nil {
		return raterr.New("Commit", raterr.PartialCommit, err)
	}
	for _, pd := range diff.Profiles {
		encodeProfileInto(blob, pd.Index, pd.Profile, d.profileCount, d.resolutionCount, d.ledCount)
		if pd.Profile.Active {
			blob[0] = byte(pd.Index)
		}
	}
	if err := io.FeatureReportSet(append([]byte{regBlob}, blob...)); err != nil {
		return raterr.New("Commit", raterr.PartialCommit, err)
	}
	return nil
}

func profileOffset(index, resolutionCount, ledCount int) int {
	perProfile := profileSlotHeader + resolutionCount*resolutionRecordSize + ledCount*ledRecordSize
	return blobHeaderSize + index*perProfile
}

func encodeProfileInto(blob []byte, index int, p *state.Profile, profileCount, resolutionCount, ledCount int) {
	off := profileOffset(index, resolutionCount, ledCount)
	name := p.Name
	if len(name) > nameFieldLength {
		name = name[:nameFieldLength]
	}
	for i := range blob[off : off+nameFieldLength] {
		blob[off+i] = 0
	}
	copy(blob[off:off+nameFieldLength], name)
	off += nameFieldLength
	if p.Enabled {
		blob[off] = 1
	} else {
		blob[off] = 0
	}
	off++

	for _, r := range p.Resolutions {
		binary.LittleEndian.PutUint16(blob[off:], uint16(r.DPIX))
		off += resolutionRecordSize
	}
	for _, l := range p.LEDs {
		if l.Mode == state.LEDSolid {
			blob[off] = 1
		} else {
			blob[off] = 0
		}
		blob[off+1], blob[off+2], blob[off+3] = l.Primary.R, l.Primary.G, l.Primary.B
		off += ledRecordSize
	}
}

func decodeBlob(blob []byte, profileCount, resolutionCount, ledCount int) []*state.Profile {
	activeProfile := int(blob[0])
	profiles := make([]*state.Profile, profileCount)
	for i := 0; i < profileCount; i++ {
		off := profileOffset(i, resolutionCount, ledCount)
		nameEnd := off + nameFieldLength
		name := string(blob[off:nameEnd])
		for j, c := range name {
			if c == 0 {
				name = name[:j]
				break
			}
		}
		off = nameEnd
		enabled := blob[off] != 0
		off++

		p := &state.Profile{Index: i, Name: name, Enabled: enabled, Active: i == activeProfile}

		p.Resolutions = make([]*state.Resolution, resolutionCount)
		for j := 0; j < resolutionCount; j++ {
			dpi := int(binary.LittleEndian.Uint16(blob[off:]))
			// This family has no independent default-resolution concept:
			// IsDefault always mirrors Active, and SetDefault is rejected
			// by the state layer for devices lacking
			// capability.FeatureDistinctDefaultResolution.
			p.Resolutions[j] = &state.Resolution{
				Index: j, DPIX: dpi, DPIY: dpi, Enabled: true,
				Active: j == 0, IsDefault: j == 0,
			}
			off += resolutionRecordSize
		}

		p.Buttons = nil

		p.LEDs = make([]*state.LED, ledCount)
		for j := 0; j < ledCount; j++ {
			mode := state.LEDOff
			if blob[off] == 1 {
				mode = state.LEDSolid
			}
			p.LEDs[j] = &state.LED{
				Index: j, Mode: mode,
				Primary: state.Color{R: blob[off+1], G: blob[off+2], B: blob[off+3]},
				Depth:   state.ColorDepth24,
			}
			off += ledRecordSize
		}
		profiles[i] = p
	}
	return profiles
}

var _ driver.Driver = (*Dialect)(nil)
